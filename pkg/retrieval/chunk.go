package retrieval

import (
	"strings"
	"unicode/utf8"
)

// Chunk is a slice of a document with its line span.
type Chunk struct {
	Content   string
	StartLine int
	EndLine   int
	Index     int
	Total     int
}

// ChunkText splits content into chunks of about size runes, line by line,
// repeating up to overlap runes of trailing lines at the start of the next
// chunk. Lines longer than size are cut at rune boundaries.
func ChunkText(content string, size, overlap int) []Chunk {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}
	if size <= 0 {
		size = 800
	}
	if overlap < 0 || overlap >= size {
		overlap = size / 5
	}

	lines := splitLongLines(strings.Split(content, "\n"), size)
	if utf8.RuneCountInString(content) <= size {
		return []Chunk{{Content: content, StartLine: 1, EndLine: len(lines), Total: 1}}
	}

	var chunks []Chunk
	var buf []string
	bufRunes := 0
	start := 1
	fresh := false

	flush := func(end int) {
		text := strings.TrimSpace(strings.Join(buf, "\n"))
		if text != "" {
			chunks = append(chunks, Chunk{Content: text, StartLine: start, EndLine: end, Index: len(chunks)})
		}
	}

	for i, line := range lines {
		buf = append(buf, line)
		bufRunes += utf8.RuneCountInString(line) + 1
		fresh = true
		if bufRunes < size {
			continue
		}
		flush(i + 1)

		// Carry trailing lines into the next chunk.
		var carry []string
		carried := 0
		for j := len(buf) - 1; j > 0; j-- {
			n := utf8.RuneCountInString(buf[j]) + 1
			if carried+n > overlap {
				break
			}
			carry = append([]string{buf[j]}, carry...)
			carried += n
		}
		buf = carry
		bufRunes = carried
		start = i + 2 - len(carry)
		fresh = false
	}
	// A tail holding only carried overlap adds nothing new.
	if fresh {
		flush(len(lines))
	}

	for i := range chunks {
		chunks[i].Total = len(chunks)
	}
	return chunks
}

func splitLongLines(lines []string, size int) []string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		r := []rune(line)
		for len(r) > size {
			out = append(out, string(r[:size]))
			r = r[size:]
		}
		out = append(out, string(r))
	}
	return out
}
