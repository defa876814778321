package docstore

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/storyround/storyround/internal/observability"
)

// watchHub fans committed writes out to per-document subscribers. Each
// subscriber drains its own queue on a dedicated goroutine, so delivery is
// ordered per document and a slow consumer never blocks a commit.
type watchHub struct {
	mu     sync.Mutex
	logger zerolog.Logger
	nextID int
	count  int
	subs   map[string]map[int]*watcher
}

func newWatchHub(logger zerolog.Logger) *watchHub {
	return &watchHub{
		logger: logger,
		subs:   make(map[string]map[int]*watcher),
	}
}

func watchKey(collection, id string) string {
	return collection + "/" + id
}

func (h *watchHub) subscribe(collection, id string, onChange ChangeHandler, onError ErrorHandler) (*watcher, CancelFunc) {
	w := &watcher{
		onChange: onChange,
		onError:  onError,
		signal:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go w.run()

	key := watchKey(collection, id)

	h.mu.Lock()
	h.nextID++
	subID := h.nextID
	if h.subs[key] == nil {
		h.subs[key] = make(map[int]*watcher)
	}
	h.subs[key][subID] = w
	h.count++
	observability.SetActiveWatchers(h.count)
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			if subs, ok := h.subs[key]; ok {
				delete(subs, subID)
				if len(subs) == 0 {
					delete(h.subs, key)
				}
				h.count--
				observability.SetActiveWatchers(h.count)
			}
			h.mu.Unlock()
			w.close()
		})
	}

	return w, cancel
}

// publish delivers a committed document to every subscriber of that document.
func (h *watchHub) publish(doc Document) {
	key := watchKey(doc.Collection, doc.ID)

	h.mu.Lock()
	watchers := make([]*watcher, 0, len(h.subs[key]))
	for _, w := range h.subs[key] {
		watchers = append(watchers, w)
	}
	h.mu.Unlock()

	for _, w := range watchers {
		w.enqueue(doc)
	}
}

// fail reports a delivery failure to every subscriber of a document.
func (h *watchHub) fail(collection, id string, err error) {
	key := watchKey(collection, id)

	h.mu.Lock()
	watchers := make([]*watcher, 0, len(h.subs[key]))
	for _, w := range h.subs[key] {
		watchers = append(watchers, w)
	}
	h.mu.Unlock()

	for _, w := range watchers {
		w.fail(err)
	}
}

func (h *watchHub) closeAll() {
	h.mu.Lock()
	var watchers []*watcher
	for _, subs := range h.subs {
		for _, w := range subs {
			watchers = append(watchers, w)
		}
	}
	h.subs = make(map[string]map[int]*watcher)
	h.count = 0
	observability.SetActiveWatchers(0)
	h.mu.Unlock()

	for _, w := range watchers {
		w.close()
	}
}

// watcher is a single subscription. The queue grows without bound rather than
// dropping deliveries; per-document traffic is a handful of writes per turn.
type watcher struct {
	onChange ChangeHandler
	onError  ErrorHandler

	mu    sync.Mutex
	queue []queueEntry

	// deliverMu guards callback invocation; close() takes it so that no
	// callback runs after close returns.
	deliverMu sync.Mutex
	closed    bool

	signal    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

type queueEntry struct {
	doc Document
	err error
}

func (w *watcher) enqueue(doc Document) {
	w.mu.Lock()
	w.queue = append(w.queue, queueEntry{doc: doc})
	w.mu.Unlock()

	select {
	case w.signal <- struct{}{}:
	default:
	}
}

func (w *watcher) fail(err error) {
	w.mu.Lock()
	w.queue = append(w.queue, queueEntry{err: err})
	w.mu.Unlock()

	select {
	case w.signal <- struct{}{}:
	default:
	}
}

func (w *watcher) run() {
	for {
		select {
		case <-w.done:
			return
		case <-w.signal:
			w.drain()
		}
	}
}

func (w *watcher) drain() {
	for {
		w.mu.Lock()
		if len(w.queue) == 0 {
			w.mu.Unlock()
			return
		}
		entry := w.queue[0]
		w.queue = w.queue[1:]
		w.mu.Unlock()

		w.deliverMu.Lock()
		if w.closed {
			w.deliverMu.Unlock()
			return
		}
		if entry.err != nil {
			if w.onError != nil {
				w.onError(entry.err)
			}
		} else {
			w.onChange(entry.doc)
		}
		w.deliverMu.Unlock()
	}
}

func (w *watcher) close() {
	w.deliverMu.Lock()
	w.closed = true
	w.deliverMu.Unlock()

	w.closeOnce.Do(func() { close(w.done) })
}
