package server

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/signadot/raedit/wire"
)

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
listen: 127.0.0.1:9999
websocket: 127.0.0.1:8080
blockPoll: 5ms
head: 3
policy:
  allow: 'action != "delete" || author == "admin"'
`))
	if err != nil {
		t.Fatal(err)
	}
	want := &Config{
		Listen:    "127.0.0.1:9999",
		WebSocket: "127.0.0.1:8080",
		BlockPoll: "5ms",
		Head:      3,
		Policy:    &PolicyConfig{Allow: `action != "delete" || author == "admin"`},
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
	if d := cfg.BlockPollDuration(); d != 5*time.Millisecond {
		t.Errorf("block poll %s", d)
	}
}

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := ParseConfig([]byte("head: 1\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Listen != "localhost:3690" {
		t.Errorf("listen %q", cfg.Listen)
	}
	if d := cfg.BlockPollDuration(); d != wire.DefaultBlockPoll {
		t.Errorf("block poll %s", d)
	}
}

func TestParseConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown field", "listen: :1\nport: 2\n", "failed to parse"},
		{"no address", "listen: \"\"\n", "no listen or websocket address"},
		{"bad duration", "blockPoll: soon\n", "blockPoll"},
		{"zero duration", "blockPoll: 0s\n", "must be positive"},
		{"negative head", "head: -1\n", "negative head"},
		{"bad policy", "policy:\n  allow: 'action +'\n", "policy"},
		{"policy not bool", "policy:\n  allow: 'path'\n", "policy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	p := filepath.Join(t.TempDir(), "raedit.yaml")
	if err := os.WriteFile(p, []byte("listen: 127.0.0.1:0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(p)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Listen != "127.0.0.1:0" {
		t.Errorf("listen %q", cfg.Listen)
	}
	if _, err := LoadConfig(p + ".missing"); err == nil {
		t.Error("loaded a missing file")
	}
}
