package worker

import (
	"sync"
	"time"

	"go.uber.org/atomic"
)

type TaskStop struct{}

type Task interface{}

// Worker runs a handler on a single goroutine, feeding it the tasks sent on its channel in order.
type Worker struct {
	name     string
	sender   chan<- Task
	receiver <-chan Task
	wg       *sync.WaitGroup
	handled  atomic.Uint64
	stopped  atomic.Bool
}

type TaskHandler interface {
	Handle(t Task)
}

type Starter interface {
	Start()
}

func (w *Worker) Start(handler TaskHandler) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if s, ok := handler.(Starter); ok {
			s.Start()
		}
		for {
			task := <-w.receiver
			if _, ok := task.(TaskStop); ok {
				return
			}
			handler.Handle(task)
			w.handled.Inc()
		}
	}()
}

func (w *Worker) Name() string {
	return w.name
}

func (w *Worker) Sender() chan<- Task {
	return w.sender
}

// Handled returns the number of tasks the handler has finished.
func (w *Worker) Handled() uint64 {
	return w.handled.Load()
}

// Stop asks the worker goroutine to exit once queued tasks are handled. Only the first call has an effect.
func (w *Worker) Stop() {
	if w.stopped.CAS(false, true) {
		w.sender <- TaskStop{}
	}
}

const defaultWorkerCapacity = 128

func NewWorker(name string, wg *sync.WaitGroup) *Worker {
	ch := make(chan Task, defaultWorkerCapacity)
	return &Worker{
		sender:   (chan<- Task)(ch),
		receiver: (<-chan Task)(ch),
		name:     name,
		wg:       wg,
	}
}

// Ticker sends a task produced by newTask to a worker on every interval until stopped. A tick is dropped when the
// worker queue is full, so a slow handler never builds up a backlog.
type Ticker struct {
	interval time.Duration
	newTask  func() Task
	target   chan<- Task
	closeCh  chan struct{}
	dropped  atomic.Uint64
	once     sync.Once
}

func NewTicker(interval time.Duration, target chan<- Task, newTask func() Task) *Ticker {
	return &Ticker{
		interval: interval,
		newTask:  newTask,
		target:   target,
		closeCh:  make(chan struct{}),
	}
}

func (t *Ticker) Start(wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		tick := time.NewTicker(t.interval)
		defer tick.Stop()
		for {
			select {
			case <-t.closeCh:
				return
			case <-tick.C:
				select {
				case t.target <- t.newTask():
				default:
					t.dropped.Inc()
				}
			}
		}
	}()
}

// Dropped returns the number of ticks skipped because the worker was busy.
func (t *Ticker) Dropped() uint64 {
	return t.dropped.Load()
}

func (t *Ticker) Stop() {
	t.once.Do(func() { close(t.closeCh) })
}
