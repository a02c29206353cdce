package data

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/reciperage/syncd/internal/scene"
)

func writeSceneList(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scene_list.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadSceneTable(t *testing.T) {
	path := writeSceneList(t, `
- name: Lobby
  mode: single
- name: KitchenShared
  mode: additive
- name: Arena
  requires_sync: true
  timeout: 45s
  dependencies: [KitchenShared]
`)
	table, err := LoadSceneTable(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if table.Count() != 3 {
		t.Fatalf("count %d", table.Count())
	}
	arena, ok := table.Resolve("Arena")
	if !ok {
		t.Fatal("Arena missing")
	}
	if !arena.RequiresSync || arena.Timeout != 45*time.Second || arena.Mode != scene.Single {
		t.Fatalf("unexpected Arena payload %+v", arena)
	}
	if len(arena.Dependencies) != 1 || arena.Dependencies[0] != "KitchenShared" {
		t.Fatalf("dependencies %v", arena.Dependencies)
	}
	if shared, _ := table.Resolve("KitchenShared"); shared.Mode != scene.Additive {
		t.Fatalf("KitchenShared mode %s", shared.Mode)
	}
	if _, ok := table.Resolve("Nowhere"); ok {
		t.Fatal("unknown scene resolved")
	}
}

func TestSceneTableRejectsBadEntries(t *testing.T) {
	cases := map[string]struct {
		body string
		want string
	}{
		"unknown dependency": {"- name: Arena\n  dependencies: [Ghost]\n", "unknown scene"},
		"cycle":              {"- name: A\n  dependencies: [B]\n- name: B\n  dependencies: [A]\n", "cycle"},
		"duplicate":          {"- name: A\n- name: A\n", "twice"},
		"bad mode":           {"- name: A\n  mode: sideways\n", "load mode"},
		"bad timeout":        {"- name: A\n  timeout: soon\n", "timeout"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadSceneTable(writeSceneList(t, tc.body))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestShippedSceneList(t *testing.T) {
	table, err := LoadSceneTable(filepath.Join("..", "..", "data", "yaml", "scene_list.yaml"))
	if err != nil {
		t.Fatalf("load shipped catalog: %v", err)
	}
	for _, name := range []string{"Lobby", "Arena"} {
		if _, ok := table.Resolve(name); !ok {
			t.Errorf("shipped catalog lacks %s", name)
		}
	}
}
