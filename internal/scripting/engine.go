package scripting

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// Engine wraps a single gopher-lua VM holding the session rule scripts.
// Calls are serialized; the VM is not safe for concurrent use.
type Engine struct {
	mu  sync.Mutex
	vm  *lua.LState
	log *zap.Logger

	// Fallback is used whenever a rule function is missing or misbehaves.
	Fallback time.Duration
}

// NewEngine creates a Lua engine and loads all scripts under scriptsDir/rules.
func NewEngine(scriptsDir string, fallback time.Duration, log *zap.Logger) (*Engine, error) {
	vm := lua.NewState(lua.Options{
		SkipOpenLibs: false,
	})

	vm.SetGlobal("API_VERSION", lua.LNumber(1))

	e := &Engine{vm: vm, log: log, Fallback: fallback}

	if err := e.loadDir(filepath.Join(scriptsDir, "rules")); err != nil {
		vm.Close()
		return nil, fmt.Errorf("load rule scripts: %w", err)
	}
	return e, nil
}

// loadDir loads all .lua files in a directory.
func (e *Engine) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // skip missing dirs
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := e.vm.DoFile(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		e.log.Debug("loaded lua script", zap.String("file", path))
	}
	return nil
}

// LoadString runs a chunk of Lua source, replacing any globals it defines.
func (e *Engine) LoadString(src string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.vm.DoString(src)
}

// PlayingDuration calls playing_duration(round, peers), which returns the
// match length in seconds. It satisfies phase.DurationPolicy.
func (e *Engine) PlayingDuration(round, peers int) time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()

	fn := e.vm.GetGlobal("playing_duration")
	if fn == lua.LNil {
		return e.Fallback
	}

	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, lua.LNumber(round), lua.LNumber(peers)); err != nil {
		e.log.Error("lua playing_duration error", zap.Error(err))
		return e.Fallback
	}

	result := e.vm.Get(-1)
	e.vm.Pop(1)

	n, ok := result.(lua.LNumber)
	secs := float64(n)
	if !ok || secs <= 0 || math.IsNaN(secs) || math.IsInf(secs, 0) {
		e.log.Warn("lua playing_duration returned unusable value", zap.String("value", result.String()))
		return e.Fallback
	}
	return time.Duration(secs * float64(time.Second))
}

// Close releases the Lua VM.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vm.Close()
}
