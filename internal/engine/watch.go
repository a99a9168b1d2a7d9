package engine

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dejo1307/envmap/internal/graph"
)

// DefaultDebounce is how long Watch waits for input changes to settle.
const DefaultDebounce = 500 * time.Millisecond

// WatchHandler receives the outcome of each regeneration.
type WatchHandler func(snapshot *graph.Snapshot, err error)

// WatchDirs returns the directories holding report inputs and the history
// file, sorted and de-duplicated. Directories that do not exist are skipped.
func (e *Engine) WatchDirs() []string {
	seen := make(map[string]bool)
	var dirs []string
	add := func(dir string) {
		if dir == "" {
			dir = "."
		}
		dir = filepath.Clean(dir)
		if seen[dir] {
			return
		}
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			return
		}
		seen[dir] = true
		dirs = append(dirs, dir)
	}
	for _, pattern := range e.cfg.Reports {
		if info, err := os.Stat(pattern); err == nil && info.IsDir() {
			add(pattern)
			continue
		}
		add(filepath.Dir(pattern))
	}
	if e.history != nil {
		add(filepath.Dir(e.history.Path()))
	}
	sort.Strings(dirs)
	return dirs
}

// relevant reports whether a change to path can affect the map.
func (e *Engine) relevant(path string) bool {
	if e.history != nil && filepath.Clean(path) == filepath.Clean(e.history.Path()) {
		return true
	}
	if !strings.EqualFold(filepath.Ext(path), ".json") {
		return false
	}
	// Our own output lands in a watched directory when it shares one with
	// the inputs.
	return filepath.Clean(filepath.Dir(path)) != filepath.Clean(e.OutputDir())
}

// Watch regenerates the map whenever report files or the history change,
// batching bursts of events into one regeneration per debounce window. It
// blocks until ctx is canceled.
func (e *Engine) Watch(ctx context.Context, debounce time.Duration, handler WatchHandler) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	dirs := e.WatchDirs()
	if len(dirs) == 0 {
		return fmt.Errorf("nothing to watch: no report or history directory exists")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	for _, dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("watching %s: %w", dir, err)
		}
		log.Printf("[engine] watching %s", dir)
	}

	var (
		timer   *time.Timer
		timerC  <-chan time.Time
		pending int
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !e.relevant(event.Name) || (event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write)) {
				continue
			}
			pending++
			if timer == nil {
				timer = time.NewTimer(debounce)
				timerC = timer.C
			} else {
				timer.Reset(debounce)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("[engine] watch error: %v", err)

		case <-timerC:
			timer, timerC = nil, nil
			log.Printf("[engine] %d input changes, regenerating", pending)
			pending = 0
			snapshot, err := e.Generate(ctx)
			if err == nil {
				err = e.WriteArtifacts()
			}
			if handler != nil {
				handler(snapshot, err)
			}
		}
	}
}
