package config

import (
	"fmt"
	"time"
)

// CoordinatorConfig tunes the conversation turn.
type CoordinatorConfig struct {
	// MaxHistory bounds a conversation to 2*MaxHistory messages.
	MaxHistory int `yaml:"max_history,omitempty"`

	TurnTimeout time.Duration `yaml:"turn_timeout,omitempty"`

	// ToolMode routes retrieval and tools through the tool protocol client.
	ToolMode bool `yaml:"tool_mode,omitempty"`

	MaxPromptTokens int `yaml:"max_prompt_tokens,omitempty"`

	// TokenizerModel selects the tiktoken encoding for prompt budgeting.
	TokenizerModel string `yaml:"tokenizer_model,omitempty"`

	// Persist stores conversations in the configured database.
	Persist bool `yaml:"persist,omitempty"`

	// ToolServer points tool mode at an external MCP server instead of the
	// in-process registry.
	ToolServer *ToolServerConfig `yaml:"tool_server,omitempty"`
}

// ToolServerConfig is a remote MCP server: a URL for streamable HTTP or a
// command for a stdio subprocess.
type ToolServerConfig struct {
	URL     string   `yaml:"url,omitempty"`
	Command string   `yaml:"command,omitempty"`
	Args    []string `yaml:"args,omitempty"`
}

func (c *CoordinatorConfig) SetDefaults() {
	if c.MaxHistory == 0 {
		c.MaxHistory = 10
	}
	if c.TurnTimeout == 0 {
		c.TurnTimeout = 60 * time.Second
	}
	if c.MaxPromptTokens == 0 {
		c.MaxPromptTokens = 6000
	}
	if c.TokenizerModel == "" {
		c.TokenizerModel = "gpt-4o-mini"
	}
}

func (c *CoordinatorConfig) Validate() error {
	if c.MaxHistory < 1 {
		return fmt.Errorf("max_history must be at least 1")
	}
	if c.TurnTimeout <= 0 {
		return fmt.Errorf("turn_timeout must be positive")
	}
	if ts := c.ToolServer; ts != nil {
		if (ts.URL == "") == (ts.Command == "") {
			return fmt.Errorf("tool_server needs exactly one of url or command")
		}
		if !c.ToolMode {
			return fmt.Errorf("tool_server requires tool_mode")
		}
	}
	return nil
}
