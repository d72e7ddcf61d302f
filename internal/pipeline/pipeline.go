// Package pipeline drives the push-and-verify import: a single producer
// converts issues and enqueues tasks, a single background consumer submits
// them to the destination and verifies the assigned ids stay in lock-step
// with the source.
//
// The ordering guarantee rests on there being exactly one FIFO consumer;
// parallelizing it would make the id verification meaningless.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/issueforge/bbmigrate/internal/debug"
	"github.com/issueforge/bbmigrate/internal/github"
)

// Default pipeline tuning.
const (
	// DefaultQueueSize bounds how far the producer can run ahead of the
	// consumer.
	DefaultQueueSize = 16

	// DefaultPushDelay is the minimum spacing between destination pushes,
	// per GitHub's rate limiting advice for the import API.
	DefaultPushDelay = time.Second

	// DefaultPollInterval is the wait between import status polls.
	DefaultPollInterval = 500 * time.Millisecond

	// DefaultDequeueWait bounds how long the consumer blocks on an empty
	// queue before re-checking the abort signal.
	DefaultDequeueWait = 3 * time.Second
)

// Task is one unit of work handed from producer to consumer. Ownership
// passes with it; the consumer is the sole owner while processing.
type Task struct {
	// ExpectedID is the source issue id the destination must assign.
	ExpectedID int
	Issue      *github.ImportIssue
	Comments   []github.ImportComment
}

// Destination accepts import submissions and answers status polls. The
// github client implements it.
type Destination interface {
	SubmitImport(ctx context.Context, issue *github.ImportIssue, comments []github.ImportComment) (*github.ImportHandle, error)
	PollStatus(ctx context.Context, handle *github.ImportHandle) (github.ImportOutcome, error)
}

// DesyncError reports that the destination assigned a different id than the
// sequencing expected. It is fatal: every issue pushed after a desync would
// land under the wrong number.
type DesyncError struct {
	Expected int
	Got      int
}

func (e *DesyncError) Error() string {
	return fmt.Sprintf("issues are out of sync: got github issue %d but bitbucket issue is at %d", e.Got, e.Expected)
}

// Config tunes the pipeline. Zero values take the defaults above.
type Config struct {
	QueueSize    int
	PushDelay    time.Duration
	PollInterval time.Duration
	DequeueWait  time.Duration

	// DryRun prints converted payloads instead of pushing them.
	DryRun bool
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.PushDelay <= 0 {
		c.PushDelay = DefaultPushDelay
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.DequeueWait <= 0 {
		c.DequeueWait = DefaultDequeueWait
	}
	return c
}

// Pipeline owns the task queue, the consumer goroutine, and the shared
// abort signal.
type Pipeline struct {
	dest     Destination
	cfg      Config
	abort    *Abort
	queue    chan Task
	group    *errgroup.Group
	lastPush time.Time
}

// New builds a pipeline. Start must be called before Enqueue.
func New(dest Destination, cfg Config) *Pipeline {
	cfg = cfg.withDefaults()
	return &Pipeline{
		dest:  dest,
		cfg:   cfg,
		abort: &Abort{},
		queue: make(chan Task, cfg.QueueSize),
	}
}

// Abort exposes the shared stop signal so the producer (and the CLI's
// signal handler) can observe and set it.
func (p *Pipeline) Abort() *Abort {
	return p.abort
}

// Start launches the background consumer.
func (p *Pipeline) Start(ctx context.Context) {
	p.group, ctx = errgroup.WithContext(ctx)
	p.group.Go(func() error {
		return p.consume(ctx)
	})
}

// Enqueue hands a task to the consumer, blocking while the queue is full.
func (p *Pipeline) Enqueue(ctx context.Context, task Task) error {
	select {
	case p.queue <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CloseAndWait signals that no further tasks are coming and blocks until
// the consumer has drained the queue. It returns the consumer's fatal
// error, if any.
func (p *Pipeline) CloseAndWait() error {
	close(p.queue)
	return p.group.Wait()
}

// consume is the background loop: timed dequeue so the abort signal is
// observed even while idle, then push-and-verify per task. A fatal error
// sets the abort signal, but the loop keeps draining (and discarding)
// queued tasks so a producer blocked on a full queue can observe the
// signal and stop; the error is returned once the queue closes.
func (p *Pipeline) consume(ctx context.Context) error {
	var fatal error
	for {
		select {
		case task, ok := <-p.queue:
			if !ok {
				return fatal
			}
			if p.abort.IsSet() {
				// Discard without pushing; the run is already dead.
				continue
			}
			if err := p.process(ctx, task); err != nil {
				p.abort.Set()
				fatal = err
			}
		case <-time.After(p.cfg.DequeueWait):
			if p.abort.IsSet() {
				return fatal
			}
		case <-ctx.Done():
			p.abort.Set()
			if fatal != nil {
				return fatal
			}
			return ctx.Err()
		}
	}
}

// process pushes one task and verifies the assigned id.
func (p *Pipeline) process(ctx context.Context, task Task) error {
	if err := p.pace(ctx); err != nil {
		return err
	}

	if p.cfg.DryRun {
		return p.printTask(task)
	}

	handle, err := p.dest.SubmitImport(ctx, task.Issue, task.Comments)
	if err != nil {
		return fmt.Errorf("pushing issue %d: %w", task.ExpectedID, err)
	}
	return p.verify(ctx, task, handle)
}

// pace enforces the fixed minimum delay since the previous push.
func (p *Pipeline) pace(ctx context.Context) error {
	if !p.lastPush.IsZero() {
		if wait := p.cfg.PushDelay - time.Since(p.lastPush); wait > 0 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	p.lastPush = time.Now()
	return nil
}

func (p *Pipeline) printTask(task Task) error {
	issue, err := json.MarshalIndent(task.Issue, "", "  ")
	if err != nil {
		return err
	}
	debug.PrintNormal("\nIssue %d: %s\n", task.ExpectedID, issue)
	for _, c := range task.Comments {
		body, err := json.MarshalIndent(c, "", "  ")
		if err != nil {
			return err
		}
		debug.PrintNormal("Comment: %s\n", body)
	}
	return nil
}

var errStillPending = errors.New("import still pending")

// verify polls the status handle until the import leaves pending, then
// checks the assigned id. An unreliable status endpoint is tolerated: an
// unknown answer or a polling failure logs a warning and assumes success,
// because the endpoint is known to misreport imports that actually landed.
func (p *Pipeline) verify(ctx context.Context, task Task, handle *github.ImportHandle) error {
	var outcome github.ImportOutcome
	poll := func() error {
		o, err := p.dest.PollStatus(ctx, handle)
		if err != nil {
			return backoff.Permanent(err)
		}
		if o.State == github.StatePending {
			return errStillPending
		}
		outcome = o
		return nil
	}

	policy := backoff.WithContext(backoff.NewConstantBackOff(p.cfg.PollInterval), ctx)
	if err := backoff.Retry(poll, policy); err != nil {
		if ctx.Err() != nil {
			return err
		}
		debug.Warnf("could not verify import of issue %d: %v; assuming success\n", task.ExpectedID, err)
		return nil
	}

	switch outcome.State {
	case github.StateImported:
		if outcome.IssueNumber != task.ExpectedID {
			return &DesyncError{Expected: task.ExpectedID, Got: outcome.IssueNumber}
		}
		debug.PrintNormal("Imported issue %d\n", task.ExpectedID)
		return nil
	case github.StateFailed:
		return fmt.Errorf("import of issue %d failed: %s", task.ExpectedID, outcome.Details)
	default:
		debug.Warnf("import status for issue %d is unknown; assuming success\n", task.ExpectedID)
		return nil
	}
}
