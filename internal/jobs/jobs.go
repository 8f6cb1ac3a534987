// Package jobs queues imports onto a single background worker and retains their
// status and results.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/starford/ankiport/internal/apperr"
	"github.com/starford/ankiport/internal/importer"
)

// Kind selects the import path used for a job's source file.
type Kind string

// Job kinds.
const (
	KindPackage    Kind = "package"
	KindCollection Kind = "collection"
)

// State is a job lifecycle state.
type State string

// Job states.
const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Done reports whether the state is final.
func (s State) Done() bool {
	return s == StateSucceeded || s == StateFailed
}

var (
	// ErrQueueFull is returned by Submit when no more jobs can be queued.
	ErrQueueFull = errors.New("import queue is full")
	// ErrUnsupported is returned for files that are neither packages nor collections.
	ErrUnsupported = errors.New("unsupported file type")
)

// KindFor picks the job kind from a file name's extension.
func KindFor(name string) (Kind, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".apkg", ".colpkg":
		return KindPackage, nil
	case ".anki2", ".anki21":
		return KindCollection, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupported, filepath.Base(name))
	}
}

// Progress is the last reported completion of a running job, in percent per phase.
type Progress struct {
	Notes int `json:"notes"`
	Cards int `json:"cards"`
	Post  int `json:"post"`
}

// Job is a snapshot of one queued import.
type Job struct {
	ID         string           `json:"id"`
	Name       string           `json:"name"`
	Source     string           `json:"-"`
	Kind       Kind             `json:"kind"`
	State      State            `json:"state"`
	Progress   Progress         `json:"progress"`
	Result     *importer.Result `json:"result,omitempty"`
	Error      string           `json:"error,omitempty"`
	Submitted  time.Time        `json:"submitted_at"`
	Started    *time.Time       `json:"started_at,omitempty"`
	Finished   *time.Time       `json:"finished_at,omitempty"`
	removeFile bool
}

// Request describes an import to queue.
type Request struct {
	// Source is the path of the package or collection file.
	Source string
	// Name is shown instead of the source path; defaults to its base name.
	Name string
	// RemoveSource deletes the source file once the job finishes.
	RemoveSource bool
}

// Runner performs the import for a job.
type Runner interface {
	Run(ctx context.Context, job Job, progress importer.Progress) (*importer.Result, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, job Job, progress importer.Progress) (*importer.Result, error)

// Run implements Runner.
func (f RunnerFunc) Run(ctx context.Context, job Job, progress importer.Progress) (*importer.Result, error) {
	return f(ctx, job, progress)
}

// Notifier observes job lifecycle changes and progress. Calls come from the worker
// goroutine and must not block.
type Notifier interface {
	JobUpdated(job Job)
	JobProgress(id string, p Progress)
}

type nopNotifier struct{}

func (nopNotifier) JobUpdated(Job) {}
func (nopNotifier) JobProgress(string, Progress) {}

// Queue runs submitted imports one at a time.
type Queue struct {
	runner   Runner
	notifier Notifier
	logger   *slog.Logger
	retain   int
	now      func() time.Time

	pending chan task

	mu    sync.Mutex
	jobs  map[string]*Job
	order []string
	done  map[string]chan struct{}
}

// task is either a queued job or a function run on the worker between jobs.
type task struct {
	id string
	fn func(ctx context.Context)
}

// Option configures a Queue.
type Option func(*Queue)

// WithNotifier sets the observer of job events.
func WithNotifier(n Notifier) Option {
	return func(q *Queue) {
		if n != nil {
			q.notifier = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) {
		if l != nil {
			q.logger = l
		}
	}
}

// WithCapacity bounds the number of jobs waiting to run.
func WithCapacity(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.pending = make(chan task, n)
		}
	}
}

// WithRetain bounds the number of finished jobs kept for status queries.
func WithRetain(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.retain = n
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		if now != nil {
			q.now = now
		}
	}
}

// New creates a queue executing jobs with runner. Call Run to start the worker.
func New(runner Runner, opts ...Option) *Queue {
	q := &Queue{
		runner:   runner,
		notifier: nopNotifier{},
		logger:   slog.Default(),
		retain:   100,
		now:      time.Now,
		pending:  make(chan task, 64),
		jobs:     make(map[string]*Job),
		done:     make(map[string]chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Submit queues an import and returns its initial snapshot.
func (q *Queue) Submit(req Request) (Job, error) {
	name := req.Name
	if name == "" {
		name = filepath.Base(req.Source)
	}
	kind, err := KindFor(name)
	if err != nil {
		return Job{}, err
	}

	job := &Job{
		ID:         uuid.NewString(),
		Name:       name,
		Source:     req.Source,
		Kind:       kind,
		State:      StateQueued,
		Submitted:  q.now(),
		removeFile: req.RemoveSource,
	}

	q.mu.Lock()
	select {
	case q.pending <- task{id: job.ID}:
	default:
		q.mu.Unlock()
		return Job{}, ErrQueueFull
	}
	q.jobs[job.ID] = job
	q.order = append(q.order, job.ID)
	q.done[job.ID] = make(chan struct{})
	snap := *job
	q.notifier.JobUpdated(snap)
	q.mu.Unlock()

	q.logger.Info("jobs: queued", slog.String("id", job.ID), slog.String("name", name), slog.String("kind", string(kind)))
	return snap, nil
}

// Get returns a snapshot of the job with the given id.
func (q *Queue) Get(id string) (Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok {
		return Job{}, fmt.Errorf("jobs: %s: %w", id, apperr.ErrNotFound)
	}
	return *job, nil
}

// List returns all retained jobs, newest first.
func (q *Queue) List() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Job, 0, len(q.order))
	for _, id := range slices.Backward(q.order) {
		out = append(out, *q.jobs[id])
	}
	return out
}

// Wait blocks until the job finishes or ctx is done.
func (q *Queue) Wait(ctx context.Context, id string) (Job, error) {
	q.mu.Lock()
	ch, ok := q.done[id]
	q.mu.Unlock()
	if !ok {
		return q.Get(id)
	}
	select {
	case <-ch:
		return q.Get(id)
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
}

// Run executes queued jobs until ctx is cancelled. Jobs still waiting stay queued.
func (q *Queue) Run(ctx context.Context) error {
	q.logger.Info("jobs: worker started")
	for {
		select {
		case <-ctx.Done():
			q.logger.Info("jobs: worker stopped")
			return nil
		case t := <-q.pending:
			if t.fn != nil {
				t.fn(ctx)
				continue
			}
			q.execute(ctx, t.id)
		}
	}
}

// Do runs fn on the worker between jobs and returns its error. Anything touching the
// destination collection outside of an import goes through Do.
func (q *Queue) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	errc := make(chan error, 1)
	t := task{fn: func(ctx context.Context) { errc <- fn(ctx) }}
	select {
	case q.pending <- t:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) execute(ctx context.Context, id string) {
	started := q.now()
	job := q.update(id, func(j *Job) {
		j.State = StateRunning
		j.Started = &started
	})
	q.notifier.JobUpdated(job)
	q.logger.Info("jobs: started", slog.String("id", id), slog.String("name", job.Name))

	progress := importer.ProgressFunc(func(notes, cards, post int) {
		p := Progress{Notes: notes, Cards: cards, Post: post}
		q.update(id, func(j *Job) { j.Progress = p })
		q.notifier.JobProgress(id, p)
	})

	res, err := q.runner.Run(ctx, job, progress)

	finished := q.now()
	job = q.update(id, func(j *Job) {
		j.Result = res
		j.Finished = &finished
		if err != nil {
			j.State = StateFailed
			j.Error = err.Error()
			return
		}
		j.State = StateSucceeded
	})

	if err != nil {
		q.logger.Error("jobs: failed", slog.String("id", id), slog.String("error", err.Error()))
	} else {
		q.logger.Info("jobs: succeeded", slog.String("id", id), slog.Duration("took", finished.Sub(started)))
	}
	if job.removeFile {
		if rmErr := os.Remove(job.Source); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			q.logger.Warn("jobs: remove source failed", slog.String("id", id), slog.String("error", rmErr.Error()))
		}
	}

	q.notifier.JobUpdated(job)

	q.mu.Lock()
	close(q.done[id])
	delete(q.done, id)
	q.prune()
	q.mu.Unlock()
}

func (q *Queue) update(id string, fn func(*Job)) Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	job := q.jobs[id]
	fn(job)
	return *job
}

// prune drops the oldest finished jobs beyond the retention limit. Caller holds mu.
func (q *Queue) prune() {
	finished := 0
	for _, id := range q.order {
		if q.jobs[id].State.Done() {
			finished++
		}
	}
	kept := q.order[:0]
	for _, id := range q.order {
		if finished > q.retain && q.jobs[id].State.Done() {
			delete(q.jobs, id)
			finished--
			continue
		}
		kept = append(kept, id)
	}
	q.order = kept
}
