// Package watch runs a callback after bursts of filesystem changes settle.
// Config and theme reloading are both built on it.
package watch

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period before a change is reported.
const DefaultDebounce = 150 * time.Millisecond

// Debounced watches a set of directories and calls fire once events stop
// arriving for the debounce period.
type Debounced struct {
	watcher  *fsnotify.Watcher
	match    func(path string) bool
	delay    time.Duration
	fire     func()
	debounce *time.Timer
	mu       sync.Mutex
	done     chan struct{}
	stopOnce sync.Once
}

// New watches dirs. Directories that do not exist are skipped. match, if
// non-nil, filters events by the cleaned file path; delay <= 0 selects
// DefaultDebounce.
func New(dirs []string, match func(path string) bool, delay time.Duration, fire func()) (*Debounced, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	for _, dir := range dirs {
		if _, err := os.Stat(dir); err != nil {
			continue
		}
		if err := fsw.Add(dir); err != nil {
			fsw.Close()
			return nil, err
		}
	}

	if delay <= 0 {
		delay = DefaultDebounce
	}
	d := &Debounced{
		watcher: fsw,
		match:   match,
		delay:   delay,
		fire:    fire,
		done:    make(chan struct{}),
	}

	go d.run()

	return d, nil
}

// Watching reports the directories currently watched.
func (d *Debounced) Watching() []string {
	return d.watcher.WatchList()
}

func (d *Debounced) run() {
	for {
		select {
		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if d.match != nil && !d.match(filepath.Clean(event.Name)) {
				continue
			}
			// Editors that save by rename show up as Create or Rename
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				d.schedule()
			}

		case _, ok := <-d.watcher.Errors:
			if !ok {
				return
			}

		case <-d.done:
			return
		}
	}
}

func (d *Debounced) schedule() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.debounce != nil {
		d.debounce.Stop()
	}
	d.debounce = time.AfterFunc(d.delay, d.fire)
}

// Stop closes the watcher. It is safe to call more than once.
func (d *Debounced) Stop() {
	d.stopOnce.Do(func() {
		close(d.done)
		d.watcher.Close()

		d.mu.Lock()
		if d.debounce != nil {
			d.debounce.Stop()
		}
		d.mu.Unlock()
	})
}
