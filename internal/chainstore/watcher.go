package chainstore

import (
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// storeWatcher watches the database file for writes from other processes and
// fires a reload callback, debounced so bursts of WAL activity collapse into
// one rebuild.
type storeWatcher struct {
	dbPath   string
	watcher  *fsnotify.Watcher
	onChange func()

	mu      sync.Mutex
	pending bool
	done    chan struct{}
	wg      sync.WaitGroup
}

const watchDebounce = 500 * time.Millisecond

func newStoreWatcher(dbPath string, onChange func()) (*storeWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	// Watch the directory; sqlite writes go through -wal/-journal siblings.
	if err := watcher.Add(filepath.Dir(dbPath)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(dbPath), err)
	}

	w := &storeWatcher{
		dbPath:   dbPath,
		watcher:  watcher,
		onChange: onChange,
		done:     make(chan struct{}),
	}

	w.wg.Add(2)
	go w.eventLoop()
	go w.debounceLoop()
	return w, nil
}

func (w *storeWatcher) eventLoop() {
	defer w.wg.Done()

	base := filepath.Base(w.dbPath)
	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !strings.HasPrefix(filepath.Base(event.Name), base) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				w.mu.Lock()
				w.pending = true
				w.mu.Unlock()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("WARNING: chain store watcher error: %v", err)
		}
	}
}

func (w *storeWatcher) debounceLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(watchDebounce)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return

		case <-ticker.C:
			w.mu.Lock()
			fire := w.pending
			w.pending = false
			w.mu.Unlock()
			if fire {
				w.onChange()
			}
		}
	}
}

func (w *storeWatcher) stop() {
	close(w.done)
	w.wg.Wait()
	_ = w.watcher.Close()
}
