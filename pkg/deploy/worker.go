package deploy

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/rtsoft/up2date/pkg/logging"
)

var (
	ErrQueueFull      = errors.New("deployment queue is full")
	ErrWorkerStopped  = errors.New("deployment worker stopped")
	ErrDuplicateOrder = errors.New("deployment action already queued")
)

// Action is a queued deployment with its downloader and feedback callback.
type Action struct {
	Info       Info
	Downloader Downloader
	Done       func(Info, Outcome)
}

// Worker runs queued actions one at a time on its own goroutine so the caller returns immediately.
type Worker struct {
	handler *Handler
	limit   int

	mu      sync.Mutex
	pending []Action
	running int
	hasRun  bool
	stopped bool
	wake    chan struct{}

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewWorker creates a worker holding at most limit pending actions (0 means unbounded).
func NewWorker(h *Handler, limit int) *Worker {
	return &Worker{handler: h, limit: limit, wake: make(chan struct{}, 1)}
}

// Start launches the worker goroutine. Stop ends it.
func (w *Worker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.loop(ctx)
	}()
}

// Stop cancels pending actions, waits for the running one and returns.
func (w *Worker) Stop() {
	w.mu.Lock()
	w.stopped = true
	pending := w.pending
	w.pending = nil
	w.mu.Unlock()

	for _, a := range pending {
		a.finish(Outcome{Execution: ExecutionCanceled, Finished: FinishedNone, Message: "service stopping"})
	}
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

// Submit queues an action.
func (w *Worker) Submit(a Action) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return ErrWorkerStopped
	}
	if w.limit > 0 && len(w.pending) >= w.limit {
		return ErrQueueFull
	}
	if slices.ContainsFunc(w.pending, func(p Action) bool { return p.Info.ID == a.Info.ID }) {
		return ErrDuplicateOrder
	}
	w.pending = append(w.pending, a)
	select {
	case w.wake <- struct{}{}:
	default:
	}
	return nil
}

// Cancel drops a pending action. A running action cannot be cancelled.
func (w *Worker) Cancel(id int) bool {
	w.mu.Lock()
	i := slices.IndexFunc(w.pending, func(p Action) bool { return p.Info.ID == id })
	if i < 0 {
		running := w.hasRun && w.running == id
		w.mu.Unlock()
		if running {
			logging.Warn("Cancel requested for running action, not cancellable", "action", id)
		}
		return false
	}
	a := w.pending[i]
	w.pending = slices.Delete(w.pending, i, i+1)
	w.mu.Unlock()

	logging.Info("Deployment action cancelled", "action", id)
	a.finish(Outcome{Execution: ExecutionCanceled, Finished: FinishedSuccess, Message: "cancelled before execution"})
	return true
}

// Pending returns the IDs waiting to run, in order.
func (w *Worker) Pending() []int {
	w.mu.Lock()
	defer w.mu.Unlock()
	ids := make([]int, len(w.pending))
	for i, a := range w.pending {
		ids[i] = a.Info.ID
	}
	return ids
}

func (w *Worker) next() (Action, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.pending) == 0 {
		w.hasRun = false
		return Action{}, false
	}
	a := w.pending[0]
	w.pending = slices.Delete(w.pending, 0, 1)
	w.running, w.hasRun = a.Info.ID, true
	return a, true
}

func (w *Worker) loop(ctx context.Context) {
	for {
		for {
			a, ok := w.next()
			if !ok {
				break
			}
			a.finish(w.handler.Handle(ctx, a.Info, a.Downloader))
		}
		select {
		case <-ctx.Done():
			return
		case <-w.wake:
		}
	}
}

func (a Action) finish(o Outcome) {
	if a.Done != nil {
		a.Done(a.Info, o)
	}
}
