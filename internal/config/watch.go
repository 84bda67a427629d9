package config

import (
	"os"
	"path/filepath"

	"github.com/litescript/snowfl-tui/internal/watch"
)

// Watcher reloads the config file when it changes on disk
type Watcher struct {
	*watch.Debounced
}

// NewWatcher watches path and calls onChange with the reloaded config.
// The parent directory is watched so editors that replace the file on
// save are still picked up.
func NewWatcher(path string, onChange func(Config, error)) (*Watcher, error) {
	path = filepath.Clean(path)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	d, err := watch.New([]string{dir}, func(name string) bool { return name == path }, 0, func() {
		cfg, err := LoadFrom(path)
		if onChange != nil {
			onChange(cfg, err)
		}
	})
	if err != nil {
		return nil, err
	}
	return &Watcher{Debounced: d}, nil
}
