// Package scheduler arbitrates who gets to draw. Three job sources
// exist: on-demand once prints, on-demand scheduled prints and the
// unattended directory rotation. All of them serialize through the
// draw gate, so exactly one job ever touches the serial link.
package scheduler

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dbrgn/iboardbot-web/internal/geometry"
	"github.com/dbrgn/iboardbot-web/internal/robot"
	"github.com/dbrgn/iboardbot-web/internal/state"
	"github.com/dbrgn/iboardbot-web/internal/svg"
)

// Draw event names reported to the notifier.
const (
	EventDrawStarted   = "draw_started"
	EventDrawCompleted = "draw_completed"
	EventDrawFailed    = "draw_failed"
)

const (
	defaultTickPeriod = 10 * time.Second
	defaultOnceGrace  = 2 * time.Second
)

// DrawRunner is what the scheduler needs from the draw executor.
type DrawRunner interface {
	Draw(ctx context.Context, job *robot.Job) error
	Erase(ctx context.Context) error
}

// Notifier receives draw lifecycle events. May be nil.
type Notifier interface {
	NotifyDraw(event, jobID, source string, drawErr error)
}

type Config struct {
	// Interval is the minimum time between unattended draws. Zero
	// disables the interval check.
	Interval time.Duration
	// Window restricts unattended and scheduled draws to a daily
	// time-of-day range. Nil means always allowed.
	Window *Window
	// OnceGrace is how long a once-mode print waits for the gate
	// before reporting busy.
	OnceGrace time.Duration
	// TickPeriod is the scheduling loop resolution.
	TickPeriod time.Duration
}

type Scheduler struct {
	cfg       Config
	gate      *Gate
	runner    DrawRunner
	flattener svg.Flattener
	rotation  *Rotation
	store     *state.Store
	notifier  Notifier
	log       *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu               sync.Mutex
	pendingScheduled *robot.Job
}

func New(cfg Config, gate *Gate, runner DrawRunner, flattener svg.Flattener,
	rotation *Rotation, store *state.Store, notifier Notifier, log *logrus.Logger) *Scheduler {
	if cfg.OnceGrace <= 0 {
		cfg.OnceGrace = defaultOnceGrace
	}
	if cfg.TickPeriod <= 0 {
		cfg.TickPeriod = defaultTickPeriod
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:       cfg,
		gate:      gate,
		runner:    runner,
		flattener: flattener,
		rotation:  rotation,
		store:     store,
		notifier:  notifier,
		log:       log.WithField("component", "scheduler"),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the background tick loop.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.loop()
}

// Stop cancels any in-progress draw cooperatively (it finishes its
// current polyline and parks the pen) and waits for everything to
// drain.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) loop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.TickPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case now := <-ticker.C:
			s.tick(now)
		}
	}
}

// tick runs one scheduling decision. A tick that finds the gate held
// is a silent skip, never a queued backlog.
func (s *Scheduler) tick(now time.Time) {
	if !s.gate.TryAcquire() {
		return
	}
	job, unattended := s.selectJob(now)
	if job == nil {
		s.gate.Release()
		return
	}
	s.runHeld(job, unattended)
}

// selectJob picks the next job by source priority. Scheduled requests
// go before the rotation; both respect the time window. Called with
// the gate held.
func (s *Scheduler) selectJob(now time.Time) (job *robot.Job, unattended bool) {
	if !s.windowAllows(now) {
		return nil, false
	}

	if job := s.takeScheduled(); job != nil {
		return job, false
	}

	if s.rotation == nil {
		return nil, false
	}
	if s.cfg.Interval > 0 {
		last, err := s.store.LastDraw()
		if err != nil {
			s.log.WithError(err).Error("failed to read last draw time")
			return nil, false
		}
		if !last.IsZero() && now.Sub(last) < s.cfg.Interval {
			return nil, false
		}
	}
	return s.nextUnattended(), true
}

// nextUnattended advances the rotation and prepares the file as a job.
// A file that cannot be read or parsed is logged and skipped; the
// cursor has already moved past it, so it is not retried until the
// rotation comes around again.
func (s *Scheduler) nextUnattended() *robot.Job {
	path, ok, err := s.rotation.Next()
	if err != nil {
		s.log.WithError(err).Error("rotation failed")
		return nil
	}
	if !ok {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		s.log.WithError(err).WithField("file", path).Error("failed to read svg file")
		return nil
	}
	job, err := s.PrepareJob(string(data), path)
	if err != nil {
		s.log.WithError(err).WithField("file", path).Error("failed to prepare svg file")
		return nil
	}
	return job
}

// PrepareJob flattens and fits an SVG document into a ready-to-run
// job.
func (s *Scheduler) PrepareJob(svgText, source string) (*robot.Job, error) {
	polylines, err := s.flattener.Flatten(svgText)
	if err != nil {
		return nil, err
	}
	return &robot.Job{
		ID:      uuid.New().String(),
		Source:  source,
		Drawing: geometry.Fit(polylines, robot.DeviceWidth, robot.DeviceHeight),
	}, nil
}

// RunOnce starts an on-demand print immediately, bypassing the time
// window. If the gate cannot be acquired within the grace period the
// caller gets ErrBusy; the job is never queued. The draw itself runs
// in the background.
func (s *Scheduler) RunOnce(job *robot.Job) error {
	if !s.gate.AcquireWithin(s.cfg.OnceGrace) {
		return ErrBusy
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runHeld(job, false)
	}()
	return nil
}

// SubmitScheduled parks a job until the next tick that falls inside
// the time window. Each source holds at most one pending job: a new
// submission replaces an older one.
func (s *Scheduler) SubmitScheduled(job *robot.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pendingScheduled != nil {
		s.log.WithField("replaced", s.pendingScheduled.ID).Warn("replacing pending scheduled job")
	}
	s.pendingScheduled = job
}

// RunErase runs a board erase through the gate, like a once print.
func (s *Scheduler) RunErase() error {
	if !s.gate.AcquireWithin(s.cfg.OnceGrace) {
		return ErrBusy
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.gate.Release()
		if err := s.runner.Erase(s.ctx); err != nil {
			s.log.WithError(err).Error("erase failed")
		}
	}()
	return nil
}

// ListFiles exposes the rotation directory contents for the UI.
func (s *Scheduler) ListFiles() ([]string, error) {
	if s.rotation == nil {
		return []string{}, nil
	}
	return s.rotation.Files()
}

// PendingScheduled reports whether a scheduled job is parked.
func (s *Scheduler) PendingScheduled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingScheduled != nil
}

// runHeld executes a job while holding the gate. The gate is released
// on every exit path, success or not, so one bad job can never lock
// the system out permanently.
func (s *Scheduler) runHeld(job *robot.Job, unattended bool) {
	defer s.gate.Release()

	s.notify(EventDrawStarted, job, nil)
	err := s.runner.Draw(s.ctx, job)

	if unattended {
		// Record the attempt either way: a failing device should not
		// be hammered on every subsequent tick.
		if serr := s.store.SetLastDraw(time.Now()); serr != nil {
			s.log.WithError(serr).Error("failed to record last draw time")
		}
	}

	if err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"job":    job.ID,
			"source": job.Source,
		}).Error("draw failed")
		s.notify(EventDrawFailed, job, err)
		return
	}
	s.notify(EventDrawCompleted, job, nil)
}

func (s *Scheduler) windowAllows(now time.Time) bool {
	return s.cfg.Window == nil || s.cfg.Window.Contains(now)
}

func (s *Scheduler) takeScheduled() *robot.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := s.pendingScheduled
	s.pendingScheduled = nil
	return job
}

func (s *Scheduler) notify(event string, job *robot.Job, drawErr error) {
	if s.notifier == nil {
		return
	}
	s.notifier.NotifyDraw(event, job.ID, job.Source, drawErr)
}

// Describe summarizes scheduler configuration for the status surface.
func (s *Scheduler) Describe() string {
	if s.rotation == nil {
		return "on-demand only"
	}
	w := "always"
	if s.cfg.Window != nil {
		w = s.cfg.Window.String()
	}
	return fmt.Sprintf("unattended every %s within %s", s.cfg.Interval, w)
}
