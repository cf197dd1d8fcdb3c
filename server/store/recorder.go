package store

import (
	"context"
	"sync"

	"github.com/golang/glog"

	"kuhn-arena/server/engine"
)

// Recorder buffers finished hands of one run and writes them in chunks. Add is
// safe for concurrent use, so it can sit behind a parallel run's hook.
type Recorder struct {
	st    Store
	runID int64
	size  int

	mu      sync.Mutex
	buf     []HandRow
	written int
	err     error
}

func NewRecorder(st Store, runID int64, size int) *Recorder {
	if size <= 0 {
		size = 256
	}
	return &Recorder{st: st, runID: runID, size: size, buf: make([]HandRow, 0, size)}
}

func (r *Recorder) Add(res *engine.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf = append(r.buf, RowFromResult(res))
	if len(r.buf) >= r.size {
		r.flushLocked(context.Background())
	}
}

// Flush writes whatever is buffered and returns the first write error seen.
func (r *Recorder) Flush(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushLocked(ctx)
	return r.err
}

func (r *Recorder) flushLocked(ctx context.Context) {
	if len(r.buf) == 0 || r.err != nil {
		r.buf = r.buf[:0]
		return
	}
	if err := r.st.InsertHands(ctx, r.runID, r.buf); err != nil {
		glog.Errorf("store: run %d: insert %d hands: %v", r.runID, len(r.buf), err)
		r.err = err
	} else {
		r.written += len(r.buf)
	}
	r.buf = r.buf[:0]
}

func (r *Recorder) Written() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.written
}
