package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/term"

	"github.com/kadirpekel/finrag/pkg/coordinator"
)

// ChatCmd runs conversation turns from the terminal. With a question
// argument it answers once; otherwise it reads one question per line.
type ChatCmd struct {
	Question       string `arg:"" optional:"" help:"Ask one question and exit."`
	ConversationID string `name:"conversation" help:"Continue an existing conversation."`
	ShowSources    bool   `name:"sources" help:"Print the cited sources after each answer."`
}

func (c *ChatCmd) Run(cli *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()

	cfg, loader, err := cli.loadConfig(ctx)
	if err != nil {
		return err
	}
	if loader != nil {
		defer loader.Close()
	}

	cleanup, err := cli.initLogger(cfg.Logger)
	if err != nil {
		return err
	}
	defer cleanup()

	a, err := newApp(ctx, cfg, buildVersion(), true)
	if err != nil {
		return err
	}
	defer a.Close(context.WithoutCancel(ctx))

	id := c.ConversationID
	if id == "" {
		id = uuid.NewString()
	}

	if c.Question != "" {
		return c.ask(ctx, a.coordinator, os.Stdout, c.Question, id)
	}
	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	return c.loop(ctx, a.coordinator, os.Stdin, os.Stdout, id, interactive)
}

func (c *ChatCmd) ask(ctx context.Context, coord *coordinator.Coordinator, out io.Writer, question, id string) error {
	resp, err := coord.ProcessQuery(ctx, question, id)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, resp.Answer)
	if c.ShowSources {
		for _, s := range resp.Sources {
			fmt.Fprintf(out, "  - %s (%.2f)\n", s.Source, s.Relevance)
		}
	}
	return nil
}

// loop reads questions until EOF or /quit. Prompts and banners are only
// printed on a terminal so piped input yields just the answers.
func (c *ChatCmd) loop(ctx context.Context, coord *coordinator.Coordinator, in io.Reader, out io.Writer, id string, interactive bool) error {
	if interactive {
		fmt.Fprintf(out, "\nfinrag chat (conversation %s)\n", id)
		fmt.Fprintln(out, "Commands: /quit, /clear, /history")
		fmt.Fprintln(out)
	}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for {
		if interactive {
			fmt.Fprint(out, "You: ")
		}
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch line {
		case "/quit", "/exit":
			return nil
		case "/clear":
			if err := coord.ClearConversationHistory(ctx, id); err != nil {
				return err
			}
			fmt.Fprintln(out, "Conversation history cleared")
			continue
		case "/history":
			msgs, err := coord.GetConversationHistory(ctx, id)
			if err != nil {
				return err
			}
			for _, m := range msgs {
				fmt.Fprintf(out, "[%s] %s: %s\n", m.Timestamp.Format("15:04:05"), m.Role, m.Content)
			}
			continue
		}

		if interactive {
			fmt.Fprint(out, "\nfinrag: ")
		}
		if err := c.ask(ctx, coord, out, line, id); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(out, "error: %v\n", err)
		}
		if interactive {
			fmt.Fprintln(out)
		}
	}
	return scanner.Err()
}
