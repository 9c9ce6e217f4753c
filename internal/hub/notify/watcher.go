package notify

import (
	"container/heap"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/collabhub/collabhub/internal/metrics"
)

const (
	// debounceDelay collapses editor write bursts on a single path.
	debounceDelay = 100 * time.Millisecond

	// consumeInterval and consumeBatch bound the delivery rate:
	// at most consumeBatch notifications per tick, high priority
	// triggers an immediate drain.
	consumeInterval = 100 * time.Millisecond
	consumeBatch    = 5

	outBufferSize = 256
)

// Watcher observes directory trees and delivers classified
// notifications on Events().
type Watcher struct {
	fsw *fsnotify.Watcher
	out chan Notification

	mu      sync.Mutex
	timers  map[string]*time.Timer
	lastOp  map[string]fsnotify.Op
	queue   notifQueue
	nextSeq uint64

	drainCh chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewWatcher starts watching each root directory recursively.
func NewWatcher(roots ...string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fs watcher: %w", err)
	}

	w := &Watcher{
		fsw:     fsw,
		out:     make(chan Notification, outBufferSize),
		timers:  make(map[string]*time.Timer),
		lastOp:  make(map[string]fsnotify.Op),
		drainCh: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}

	for _, root := range roots {
		if err := w.watchTree(root); err != nil {
			fsw.Close()
			return nil, err
		}
	}

	w.wg.Add(2)
	go w.readLoop()
	go w.consumeLoop()
	return w, nil
}

// Events is the downstream notification channel. Closed on Close.
func (w *Watcher) Events() <-chan Notification {
	return w.out
}

// Close stops the watcher and waits for both loops to exit.
func (w *Watcher) Close() error {
	close(w.done)
	err := w.fsw.Close()

	w.mu.Lock()
	for _, t := range w.timers {
		t.Stop()
	}
	w.timers = map[string]*time.Timer{}
	w.mu.Unlock()

	w.wg.Wait()
	close(w.out)
	return err
}

// watchTree registers root and every subdirectory below it.
func (w *Watcher) watchTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if ignored(d.Name()) && path != root {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

func (w *Watcher) readLoop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleRaw(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Warn("fs watcher error", "error", err)
		}
	}
}

// handleRaw records the raw op and (re)arms the per-path debounce
// timer. Newly created directories are added to the watch set right
// away so events inside them are not missed.
func (w *Watcher) handleRaw(ev fsnotify.Event) {
	if ev.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if !ignored(filepath.Base(ev.Name)) {
				if err := w.watchTree(ev.Name); err != nil {
					slog.Warn("watch new directory", "path", ev.Name, "error", err)
				}
			}
			return
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastOp[ev.Name] |= ev.Op
	if t, ok := w.timers[ev.Name]; ok {
		t.Reset(debounceDelay)
		return
	}
	path := ev.Name
	w.timers[path] = time.AfterFunc(debounceDelay, func() { w.flush(path) })
}

// flush fires when a path has been quiet for the debounce window: it
// classifies the accumulated event and enqueues the notification.
func (w *Watcher) flush(path string) {
	w.mu.Lock()
	op := w.lastOp[path]
	delete(w.lastOp, path)
	delete(w.timers, path)
	w.mu.Unlock()

	if ignored(filepath.Base(path)) {
		return
	}

	n := classify(path, op, time.Now().UTC())

	w.mu.Lock()
	heap.Push(&w.queue, queueItem{n: n, seq: w.nextSeq})
	w.nextSeq++
	metrics.NotifyQueueDepth.Set(float64(w.queue.Len()))
	w.mu.Unlock()

	if n.Priority == PriorityHigh {
		select {
		case w.drainCh <- struct{}{}:
		default:
		}
	}
}

func (w *Watcher) consumeLoop() {
	defer w.wg.Done()
	ticker := time.NewTicker(consumeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.dispatch(consumeBatch)
		case <-w.drainCh:
			w.dispatch(consumeBatch)
		}
	}
}

// dispatch pops up to limit notifications in priority order and hands
// them downstream. A full downstream buffer drops the notification
// rather than stalling the queue.
func (w *Watcher) dispatch(limit int) {
	for i := 0; i < limit; i++ {
		w.mu.Lock()
		if w.queue.Len() == 0 {
			w.mu.Unlock()
			return
		}
		item := heap.Pop(&w.queue).(queueItem)
		metrics.NotifyQueueDepth.Set(float64(w.queue.Len()))
		w.mu.Unlock()

		select {
		case w.out <- item.n:
		default:
			slog.Warn("notification consumer lagging; dropping event", "path", item.n.Path)
		}
	}
}

// ignored applies the basename filter for scratch and tooling files.
func ignored(base string) bool {
	switch {
	case strings.HasPrefix(base, "."):
		return true
	case strings.HasSuffix(base, "~"):
		return true
	case strings.HasSuffix(base, ".tmp"):
		return true
	case strings.HasSuffix(base, ".lock"):
		return true
	case strings.Contains(base, "node_modules"):
		return true
	}
	return false
}

// classify determines the kind from the path's current state and
// routes by basename.
func classify(path string, op fsnotify.Op, now time.Time) Notification {
	var kind Kind
	_, statErr := os.Stat(path)
	switch {
	case statErr != nil:
		kind = KindRemove
	case op.Has(fsnotify.Rename):
		kind = KindAdd
	default:
		kind = KindChange
	}

	base := filepath.Base(path)
	typ := TypeFileChanged
	priority := PriorityLow
	switch {
	case base == "TASK_BOARD.md":
		typ = TypeTaskBoardUpdated
		priority = PriorityMedium
	case base == "DISCUSSION_BOARD.md":
		typ = TypeDiscussionUpdated
		priority = PriorityHigh
	case filepath.Base(filepath.Dir(path)) == "messages" && strings.HasSuffix(base, ".json"):
		typ = TypeNewMessage
		priority = PriorityHigh
	}

	return Notification{
		Type:      typ,
		Kind:      kind,
		Path:      path,
		Priority:  priority,
		Timestamp: now,
	}
}
