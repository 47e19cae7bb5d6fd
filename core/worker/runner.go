package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"harmony/logger"

	"github.com/google/uuid"
)

// ErrStopped is returned when work is submitted after Stop.
var ErrStopped = errors.New("worker stopped")

// Completion runs on the consumer's goroutine once its task has finished.
type Completion func()

// Task is blocking work executed on the worker. It must not touch state owned
// by the consumer; it returns a Completion that does.
type Task func(ctx context.Context) Completion

type job struct {
	id   string
	name string
	run  Task
}

// Runner executes tasks one at a time on a single background goroutine and
// hands their completions to one consumer through Completions. Submission
// never blocks: the queue is unbounded.
type Runner struct {
	mu      sync.Mutex
	queue   []job
	stopped bool

	notify      chan struct{}
	completions chan Completion
	stopChan    chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
}

// NewRunner 创建后台任务执行器
func NewRunner() *Runner {
	return &Runner{
		notify:      make(chan struct{}, 1),
		completions: make(chan Completion),
		stopChan:    make(chan struct{}),
	}
}

// Start launches the worker goroutine. ctx is passed to every task.
func (r *Runner) Start(ctx context.Context) {
	r.wg.Add(1)
	go r.loop(ctx)
}

// Completions is read by the single consumer that owns the shared state.
func (r *Runner) Completions() <-chan Completion {
	return r.completions
}

// Go queues a task and returns its ID.
func (r *Runner) Go(name string, task Task) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return "", ErrStopped
	}

	id := uuid.New().String()
	r.queue = append(r.queue, job{id: id, name: name, run: task})
	select {
	case r.notify <- struct{}{}:
	default:
	}
	logger.Debug("task queued", logger.String("task", name), logger.String("id", id))
	return id, nil
}

// Submit runs work on the runner and delivers its result to done on the
// consumer goroutine.
func Submit[T any](r *Runner, name string, work func(ctx context.Context) (T, error), done func(T, error)) (string, error) {
	return r.Go(name, func(ctx context.Context) Completion {
		v, err := work(ctx)
		return func() { done(v, err) }
	})
}

// Stop ends the worker after the task in progress; queued tasks are dropped.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() {
		r.mu.Lock()
		r.stopped = true
		dropped := len(r.queue)
		r.queue = nil
		r.mu.Unlock()

		close(r.stopChan)
		r.wg.Wait()
		logger.Info("background worker stopped", logger.Int("dropped", dropped))
	})
}

func (r *Runner) loop(ctx context.Context) {
	defer r.wg.Done()

	for {
		j, ok := r.pop()
		if !ok {
			select {
			case <-r.stopChan:
				return
			case <-r.notify:
				continue
			}
		}

		c := r.execute(ctx, j)
		if c == nil {
			continue
		}
		select {
		case r.completions <- c:
		case <-r.stopChan:
			return
		}
	}
}

func (r *Runner) pop() (job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.queue) == 0 {
		return job{}, false
	}
	j := r.queue[0]
	r.queue = r.queue[1:]
	return j, true
}

func (r *Runner) execute(ctx context.Context, j job) (c Completion) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("task panicked",
				logger.String("task", j.name),
				logger.String("id", j.id),
				logger.ErrorField(fmt.Errorf("%v", rec)))
			c = nil
		}
	}()
	return j.run(ctx)
}
