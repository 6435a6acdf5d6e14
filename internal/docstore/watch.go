package docstore

import (
	"context"
	"reflect"
	"sync/atomic"
)

type queryFunc func(ctx context.Context, q Query) ([]Document, error)

// watchFeed turns change signals for q.Collection into snapshots of q. The
// first snapshot is delivered as soon as the watcher starts; later ones only
// when the result set differs from the previous delivery.
func watchFeed(ctx context.Context, feed Feed, q Query, run queryFunc, fn SnapshotFunc) (Unsubscribe, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	signals, stop, err := feed.Listen(ctx, q.Collection)
	if err != nil {
		return nil, err
	}
	return startWatch(ctx, signals, stop, q, run, fn), nil
}

type watcher struct {
	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool
	query  Query
	run    queryFunc
	fn     SnapshotFunc
	last   []Document
	primed bool
}

func startWatch(parent context.Context, signals <-chan struct{}, stopSignals func(), q Query, run queryFunc, fn SnapshotFunc) Unsubscribe {
	ctx, cancel := context.WithCancel(parent)
	w := &watcher{ctx: ctx, cancel: cancel, query: q, run: run, fn: fn}
	go func() {
		defer stopSignals()
		w.deliver()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-signals:
				if !ok {
					return
				}
				w.deliver()
			}
		}
	}()
	return w.unsubscribe
}

func (w *watcher) unsubscribe() {
	w.closed.Store(true)
	w.cancel()
}

func (w *watcher) deliver() {
	docs, err := w.run(w.ctx, w.query)
	if w.ctx.Err() != nil || w.closed.Load() {
		return
	}
	if err != nil {
		w.primed = false
		w.fn(Snapshot{Err: err})
		return
	}
	if w.primed && reflect.DeepEqual(docs, w.last) {
		return
	}
	w.last = docs
	w.primed = true
	out := make([]Document, len(docs))
	for i, doc := range docs {
		out[i] = cloneDocument(doc)
	}
	w.fn(Snapshot{Docs: out})
}
