package finance

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Number is a parsed report figure such as "1,505.6亿元" or "1.52%".
type Number struct {
	Value float64
	Unit  string
}

var numberPattern = regexp.MustCompile(`([-+]?\d[\d,]*(?:\.\d+)?|[-+]?\.\d+)\s*(万亿|亿元|万元|亿|万|元|%|个百分点|倍)?`)

var unitScale = map[string]float64{
	"万亿": 1e12,
	"亿元": 1e8,
	"亿":  1e8,
	"万元": 1e4,
	"万":  1e4,
	"元":  1,
}

// ParseNumber reads the first number in s together with its unit.
func ParseNumber(s string) (Number, error) {
	m := numberPattern.FindStringSubmatch(s)
	if m == nil {
		return Number{}, fmt.Errorf("no number in %q", s)
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil {
		return Number{}, fmt.Errorf("invalid number %q: %w", m[1], err)
	}
	return Number{Value: v, Unit: m[2]}, nil
}

// ParseValue accepts a number already decoded from JSON or a string to parse.
func ParseValue(v any) (Number, error) {
	switch n := v.(type) {
	case float64:
		return Number{Value: n}, nil
	case float32:
		return Number{Value: float64(n)}, nil
	case int:
		return Number{Value: float64(n)}, nil
	case int64:
		return Number{Value: float64(n)}, nil
	case string:
		return ParseNumber(n)
	case nil:
		return Number{}, fmt.Errorf("missing value")
	default:
		return ParseNumber(fmt.Sprint(n))
	}
}

// Scaled returns the value in base units for monetary figures (亿 -> 1e8).
// Percentages and unitless values are returned unchanged.
func (n Number) Scaled() float64 {
	if s, ok := unitScale[n.Unit]; ok {
		return n.Value * s
	}
	return n.Value
}

func (n Number) String() string {
	return strconv.FormatFloat(n.Value, 'f', -1, 64) + n.Unit
}
