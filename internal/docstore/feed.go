package docstore

import (
	"context"
	"sync"
)

// Feed carries "collection changed" signals from writers to live queries.
type Feed interface {
	Publish(ctx context.Context, collection string) error
	Listen(ctx context.Context, collection string) (<-chan struct{}, func(), error)
	Close() error
}

type hub struct {
	mu   sync.Mutex
	subs map[chan struct{}]struct{}
}

func newHub() *hub {
	return &hub{subs: map[chan struct{}]struct{}{}}
}

func (h *hub) subscribe() (chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
		})
	}
}

// broadcast never blocks: a listener that has not consumed its pending signal
// will re-read the collection anyway, so extra signals are coalesced.
func (h *hub) broadcast() {
	h.mu.Lock()
	for ch := range h.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	h.mu.Unlock()
}

// LocalFeed delivers change signals inside one process.
type LocalFeed struct {
	mu   sync.Mutex
	hubs map[string]*hub
}

func NewLocalFeed() *LocalFeed {
	return &LocalFeed{hubs: map[string]*hub{}}
}

func (f *LocalFeed) hubFor(collection string) *hub {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := f.hubs[collection]
	if h == nil {
		h = newHub()
		f.hubs[collection] = h
	}
	return h
}

func (f *LocalFeed) Publish(_ context.Context, collection string) error {
	f.hubFor(collection).broadcast()
	return nil
}

func (f *LocalFeed) Listen(_ context.Context, collection string) (<-chan struct{}, func(), error) {
	ch, cancel := f.hubFor(collection).subscribe()
	return ch, cancel, nil
}

func (f *LocalFeed) Close() error { return nil }

// publishAll signals every collection, used after a feed reconnects and may
// have missed changes.
func (f *LocalFeed) publishAll() {
	f.mu.Lock()
	hubs := make([]*hub, 0, len(f.hubs))
	for _, h := range f.hubs {
		hubs = append(hubs, h)
	}
	f.mu.Unlock()
	for _, h := range hubs {
		h.broadcast()
	}
}
