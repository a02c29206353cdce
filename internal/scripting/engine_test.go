package scripting

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func newEngine(t *testing.T, rules string) *Engine {
	t.Helper()
	dir := t.TempDir()
	if rules != "" {
		if err := os.MkdirAll(filepath.Join(dir, "rules"), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, "rules", "round.lua"), []byte(rules), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	e, err := NewEngine(dir, 180*time.Second, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	t.Cleanup(e.Close)
	return e
}

func TestPlayingDurationFromScript(t *testing.T) {
	e := newEngine(t, `
function playing_duration(round, peers)
  return 120 + 15 * peers + 0.5 * round
end
`)
	if got := e.PlayingDuration(2, 4); got != 181*time.Second {
		t.Fatalf("got %s, want 3m1s", got)
	}
}

func TestPlayingDurationFallbacks(t *testing.T) {
	cases := map[string]string{
		"missing":  "",
		"error":    `function playing_duration(r, p) error("boom") end`,
		"negative": `function playing_duration(r, p) return -5 end`,
		"string":   `function playing_duration(r, p) return "long" end`,
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			e := newEngine(t, src)
			if got := e.PlayingDuration(1, 2); got != 180*time.Second {
				t.Fatalf("got %s, want fallback", got)
			}
		})
	}
}

func TestLoadStringReplacesRule(t *testing.T) {
	e := newEngine(t, `function playing_duration(r, p) return 60 end`)
	if err := e.LoadString(`function playing_duration(r, p) return 90 end`); err != nil {
		t.Fatal(err)
	}
	if got := e.PlayingDuration(1, 1); got != 90*time.Second {
		t.Fatalf("got %s", got)
	}
}

func TestBadScriptFailsLoad(t *testing.T) {
	dir := t.TempDir()
	os.MkdirAll(filepath.Join(dir, "rules"), 0o755)
	os.WriteFile(filepath.Join(dir, "rules", "bad.lua"), []byte("function ("), 0o644)
	if _, err := NewEngine(dir, time.Minute, zaptest.NewLogger(t)); err == nil {
		t.Fatal("expected a syntax error")
	}
}
