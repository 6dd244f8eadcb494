package server

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/signadot/raedit/wire"
)

// Config represents the server configuration file.
type Config struct {
	// Listen is the TCP address of the tuple protocol.
	Listen string `yaml:"listen"`

	// WebSocket, if set, is the address of a websocket listener carrying
	// the same protocol.
	WebSocket string `yaml:"websocket,omitempty"`

	// BlockPoll is how long a blocked write waits before reading from the
	// peer, as a duration string.
	BlockPoll string `yaml:"blockPoll,omitempty"`

	// Head creates that many empty revisions at startup.
	Head int64 `yaml:"head,omitempty"`

	Policy *PolicyConfig `yaml:"policy,omitempty"`
}

// PolicyConfig restricts what commits may change.
type PolicyConfig struct {
	// Allow is an expression which must hold for every path a commit
	// touches. It sees path, action ("add", "delete" or "modify"), kind
	// ("file" or "dir") and author, and may call glob(pattern, path).
	Allow string `yaml:"allow"`
}

// LoadConfig loads a configuration file in YAML format.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses a YAML configuration over the defaults.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.UnmarshalWithOptions(data, cfg, yaml.DisallowUnknownField()); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Listen:    "localhost:3690",
		BlockPoll: wire.DefaultBlockPoll.String(),
	}
}

// BlockPollDuration returns BlockPoll parsed, or the wire default.
func (c *Config) BlockPollDuration() time.Duration {
	d, err := time.ParseDuration(c.BlockPoll)
	if err != nil || d <= 0 {
		return wire.DefaultBlockPoll
	}
	return d
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Listen == "" && c.WebSocket == "" {
		return fmt.Errorf("config: no listen or websocket address")
	}
	if c.BlockPoll != "" {
		d, err := time.ParseDuration(c.BlockPoll)
		if err != nil {
			return fmt.Errorf("config: blockPoll: %w", err)
		}
		if d <= 0 {
			return fmt.Errorf("config: blockPoll must be positive, got %s", d)
		}
	}
	if c.Head < 0 {
		return fmt.Errorf("config: negative head %d", c.Head)
	}
	if c.Policy != nil {
		if _, err := CompilePolicy(c.Policy.Allow); err != nil {
			return fmt.Errorf("config: policy: %w", err)
		}
	}
	return nil
}
