package robot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dbrgn/iboardbot-web/internal/geometry"
)

// ErrDrawFailed wraps any link failure that aborted a job.
var ErrDrawFailed = errors.New("draw failed")

// AdHocSource marks jobs that did not originate from the unattended
// directory.
const AdHocSource = "ad hoc"

// ExecState is the executor lifecycle for one job.
type ExecState string

const (
	ExecIdle      ExecState = "idle"
	ExecRunning   ExecState = "running"
	ExecComplete  ExecState = "complete"
	ExecFailed    ExecState = "failed"
	ExecCancelled ExecState = "cancelled"
)

// Job is one unit of work for the executor: a fitted drawing plus
// provenance. Created when a job is selected to run, discarded when
// the draw finishes.
type Job struct {
	ID        string
	Source    string
	Drawing   geometry.FittedDrawing
	StartedAt time.Time
}

// Executor drives one job at a time through the serial link. Callers
// are responsible for mutual exclusion (the draw gate); the executor
// only enforces the command mapping and cancellation semantics.
type Executor struct {
	link *Link
	log  *logrus.Entry

	mu      sync.Mutex
	state   ExecState
	current *Job
}

func NewExecutor(link *Link, log *logrus.Logger) *Executor {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Executor{
		link:  link,
		log:   log.WithField("component", "executor"),
		state: ExecIdle,
	}
}

// Draw performs one complete draw. The drawing is validated against
// the drawable area before any byte reaches the wire; a drawing that
// exceeds it is rejected outright rather than partially drawn.
// Cancellation is cooperative and only honoured between polylines so
// the pen is never left in an ambiguous state; on cancellation the
// job trailer (pen up, park, stop) is still transmitted.
func (e *Executor) Draw(ctx context.Context, job *Job) error {
	if err := job.Drawing.CheckBounds(); err != nil {
		return err
	}

	e.begin(job)
	log := e.log.WithFields(logrus.Fields{
		"job":       job.ID,
		"source":    job.Source,
		"polylines": len(job.Drawing.Polylines),
	})
	log.Info("draw started")

	// Blocks are transmitted without the job context: cancellation is
	// only honoured at polyline boundaries, a block in flight always
	// completes (or faults on its own timeout budget).
	enc := NewEncoder()
	enc.Begin()
	if err := e.transmit(enc); err != nil {
		e.finish(ExecFailed)
		return err
	}

	for i, polyline := range job.Drawing.Polylines {
		select {
		case <-ctx.Done():
			log.WithField("at_polyline", i).Info("draw cancelled, parking pen")
			enc.End()
			if err := e.transmit(enc); err != nil {
				e.finish(ExecFailed)
				return err
			}
			e.finish(ExecCancelled)
			return ctx.Err()
		default:
		}

		if len(polyline) < 2 {
			log.WithField("polyline", i).Warn("skipping polyline with less than 2 points")
			continue
		}
		enc.Polyline(polyline)
		if err := e.transmit(enc); err != nil {
			e.finish(ExecFailed)
			return err
		}
	}

	enc.End()
	if err := e.transmit(enc); err != nil {
		e.finish(ExecFailed)
		return err
	}

	e.finish(ExecComplete)
	log.Info("draw complete")
	return nil
}

// Erase runs a board erase cycle as a regular job.
func (e *Executor) Erase(ctx context.Context) error {
	job := &Job{ID: "erase", Source: AdHocSource, StartedAt: time.Now()}
	e.begin(job)
	e.log.Info("erase started")

	enc := NewEncoder()
	enc.Begin()
	enc.Erase()
	enc.End()
	if err := e.transmit(enc); err != nil {
		e.finish(ExecFailed)
		return err
	}
	e.finish(ExecComplete)
	return nil
}

// transmit flushes pending commands into blocks and streams them over
// the link in order.
func (e *Executor) transmit(enc *Encoder) error {
	blocks, err := enc.Flush()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDrawFailed, err)
	}
	for _, block := range blocks {
		if err := e.link.SendBlock(context.Background(), block); err != nil {
			return fmt.Errorf("%w: %v", ErrDrawFailed, err)
		}
	}
	return nil
}

func (e *Executor) begin(job *Job) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if job.StartedAt.IsZero() {
		job.StartedAt = time.Now()
	}
	e.state = ExecRunning
	e.current = job
}

func (e *Executor) finish(s ExecState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = s
	e.current = nil
}

// Status returns the last executor state and, while running, the
// active job.
func (e *Executor) Status() (ExecState, *Job) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state, e.current
}
