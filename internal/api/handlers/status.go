package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/dbrgn/iboardbot-web/internal/config"
	"github.com/dbrgn/iboardbot-web/internal/robot"
	"github.com/dbrgn/iboardbot-web/internal/scheduler"
	"github.com/dbrgn/iboardbot-web/internal/state"
)

// LinkStatus is the read-only view of the serial link.
type LinkStatus interface {
	State() robot.LinkState
	CurrentBlock() uint32
}

// ExecutorStatus is the read-only view of the draw executor.
type ExecutorStatus interface {
	Status() (robot.ExecState, *robot.Job)
}

type JobInfo struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	StartedAt time.Time `json:"started_at"`
}

type StatusResponse struct {
	Link             string   `json:"link"`
	CurrentBlock     uint32   `json:"current_block"`
	Executor         string   `json:"executor"`
	ActiveJob        *JobInfo `json:"active_job,omitempty"`
	PendingScheduled bool     `json:"pending_scheduled"`
	RotationCursor   string   `json:"rotation_cursor,omitempty"`
	LastDraw         string   `json:"last_draw,omitempty"`
	Schedule         string   `json:"schedule"`
}

type ConfigResponse struct {
	Device      string `json:"device"`
	BaudRate    int    `json:"baud_rate"`
	SVGDir      string `json:"svg_dir,omitempty"`
	Interval    string `json:"interval"`
	WindowStart string `json:"window_start,omitempty"`
	WindowEnd   string `json:"window_end,omitempty"`
}

// StatusHandler serves the read-only observation surface: list, config
// projection and runtime status.
type StatusHandler struct {
	link     LinkStatus
	executor ExecutorStatus
	sched    *scheduler.Scheduler
	store    *state.Store
	cfg      *config.Config
	log      *logrus.Entry
}

func NewStatusHandler(link LinkStatus, executor ExecutorStatus, sched *scheduler.Scheduler,
	store *state.Store, cfg *config.Config, log *logrus.Logger) *StatusHandler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &StatusHandler{
		link:     link,
		executor: executor,
		sched:    sched,
		store:    store,
		cfg:      cfg,
		log:      log.WithField("component", "api"),
	}
}

// List returns the filenames the unattended rotation cycles through,
// in selection order, as a bare array.
func (h *StatusHandler) List(c *gin.Context) {
	files, err := h.sched.ListFiles()
	if err != nil {
		h.log.WithError(err).Error("failed to list svg directory")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list svg directory"})
		return
	}
	c.JSON(http.StatusOK, files)
}

// GetConfig returns the operational configuration. Secrets never
// appear here.
func (h *StatusHandler) GetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, ConfigResponse{
		Device:      h.cfg.Robot.Device,
		BaudRate:    h.cfg.Robot.BaudRate,
		SVGDir:      h.cfg.Headless.SVGDir,
		Interval:    h.cfg.Headless.Interval.String(),
		WindowStart: h.cfg.Headless.WindowStart,
		WindowEnd:   h.cfg.Headless.WindowEnd,
	})
}

func (h *StatusHandler) GetStatus(c *gin.Context) {
	resp := StatusResponse{
		Link:             string(h.link.State()),
		CurrentBlock:     h.link.CurrentBlock(),
		PendingScheduled: h.sched.PendingScheduled(),
		Schedule:         h.sched.Describe(),
	}

	execState, job := h.executor.Status()
	resp.Executor = string(execState)
	if job != nil {
		resp.ActiveJob = &JobInfo{
			ID:        job.ID,
			Source:    job.Source,
			StartedAt: job.StartedAt,
		}
	}

	if cursor, err := h.store.RotationCursor(); err == nil {
		resp.RotationCursor = cursor
	}
	if last, err := h.store.LastDraw(); err == nil && !last.IsZero() {
		resp.LastDraw = last.Format(time.RFC3339)
	}

	c.JSON(http.StatusOK, resp)
}

func (h *StatusHandler) RegisterRoutes(r *gin.Engine) {
	r.GET("/list/", h.List)
	r.GET("/config/", h.GetConfig)
	r.GET("/status/", h.GetStatus)
}
