package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dbrgn/iboardbot-web/internal/geometry"
	"github.com/dbrgn/iboardbot-web/internal/robot"
	"github.com/dbrgn/iboardbot-web/internal/scheduler"
	"github.com/dbrgn/iboardbot-web/internal/svg"
)

// Print modes. Once starts drawing immediately or reports busy;
// scheduled waits for the next slot inside the time window.
const (
	ModeOnce      = "once"
	ModeScheduled = "scheduled"
)

type PreviewRequest struct {
	SVG string `json:"svg" binding:"required"`
}

type PrintRequest struct {
	SVG     string  `json:"svg" binding:"required"`
	OffsetX float64 `json:"offset_x"`
	OffsetY float64 `json:"offset_y"`
	// Zero scale means "leave the automatic fit alone".
	ScaleX float64 `json:"scale_x"`
	ScaleY float64 `json:"scale_y"`
	Mode   string  `json:"mode"`
}

// DrawingHandler serves the preview/print/erase surface. All drawing
// requests funnel into the scheduler; the handler never touches the
// serial link directly.
type DrawingHandler struct {
	sched     *scheduler.Scheduler
	flattener svg.Flattener
	log       *logrus.Entry
}

func NewDrawingHandler(sched *scheduler.Scheduler, flattener svg.Flattener, log *logrus.Logger) *DrawingHandler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &DrawingHandler{
		sched:     sched,
		flattener: flattener,
		log:       log.WithField("component", "api"),
	}
}

// Preview flattens and fits an SVG without sending anything to the
// robot, so the UI can show what a print would draw. The body is the
// bare list of fitted polylines; manual offset/scale is never applied
// here.
func (h *DrawingHandler) Preview(c *gin.Context) {
	var req PreviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	polylines, err := h.flattener.Flatten(req.SVG)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	fitted := geometry.Fit(polylines, robot.DeviceWidth, robot.DeviceHeight)
	c.JSON(http.StatusOK, fitted.Polylines)
}

// Print submits an SVG for drawing. The drawing is auto-fitted, then
// the client's manual offset and scale are applied on top; a result
// that leaves the drawable area is rejected before anything runs.
func (h *DrawingHandler) Print(c *gin.Context) {
	var req PrintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	mode := req.Mode
	if mode == "" {
		mode = ModeOnce
	}
	if mode != ModeOnce && mode != ModeScheduled {
		c.JSON(http.StatusBadRequest, gin.H{"error": "mode must be once or scheduled"})
		return
	}

	polylines, err := h.flattener.Flatten(req.SVG)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	fitted := geometry.Fit(polylines, robot.DeviceWidth, robot.DeviceHeight)
	scaleX, scaleY := req.ScaleX, req.ScaleY
	if scaleX == 0 {
		scaleX = 1
	}
	if scaleY == 0 {
		scaleY = 1
	}
	if req.OffsetX != 0 || req.OffsetY != 0 || scaleX != 1 || scaleY != 1 {
		fitted.ApplyManual(req.OffsetX, req.OffsetY, scaleX, scaleY)
	}
	if err := fitted.CheckBounds(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job := &robot.Job{
		ID:      uuid.New().String(),
		Source:  robot.AdHocSource,
		Drawing: fitted,
	}

	if mode == ModeScheduled {
		h.sched.SubmitScheduled(job)
		c.Status(http.StatusNoContent)
		return
	}

	if err := h.sched.RunOnce(job); err != nil {
		if errors.Is(err, scheduler.ErrBusy) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "another draw is in progress"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start draw"})
		return
	}
	c.Status(http.StatusNoContent)
}

// Erase submits a board erase through the gate.
func (h *DrawingHandler) Erase(c *gin.Context) {
	if err := h.sched.RunErase(); err != nil {
		if errors.Is(err, scheduler.ErrBusy) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "another draw is in progress"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start erase"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *DrawingHandler) RegisterRoutes(r *gin.Engine) {
	r.POST("/preview/", h.Preview)
	r.POST("/print/", h.Print)
	r.POST("/erase/", h.Erase)
}
