package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbrgn/iboardbot-web/internal/geometry"
	"github.com/dbrgn/iboardbot-web/internal/robot"
	"github.com/dbrgn/iboardbot-web/internal/scheduler"
	"github.com/dbrgn/iboardbot-web/internal/state"
	"github.com/dbrgn/iboardbot-web/internal/svg"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeRunner struct {
	mu     sync.Mutex
	drawn  []*robot.Job
	erased int
}

func (f *fakeRunner) Draw(ctx context.Context, job *robot.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drawn = append(f.drawn, job)
	return nil
}

func (f *fakeRunner) Erase(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.erased++
	return nil
}

func (f *fakeRunner) drawCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.drawn)
}

type fakeFlattener struct {
	polylines []geometry.Polyline
	err       error
}

func (f fakeFlattener) Flatten(string) ([]geometry.Polyline, error) {
	return f.polylines, f.err
}

func discardLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

type drawingFixture struct {
	router *gin.Engine
	gate   *scheduler.Gate
	sched  *scheduler.Scheduler
	runner *fakeRunner
}

func newDrawingFixture(t *testing.T, flattener svg.Flattener) *drawingFixture {
	t.Helper()
	store, err := state.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	f := &drawingFixture{
		gate:   scheduler.NewGate(),
		runner: &fakeRunner{},
	}
	f.sched = scheduler.New(scheduler.Config{OnceGrace: 20 * time.Millisecond},
		f.gate, f.runner, flattener, nil, store, nil, discardLogger())

	f.router = gin.New()
	NewDrawingHandler(f.sched, flattener, discardLogger()).RegisterRoutes(f.router)
	return f
}

func postJSON(t *testing.T, router *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func simpleFlattener() fakeFlattener {
	return fakeFlattener{polylines: []geometry.Polyline{
		{{X: 0, Y: 0}, {X: 10, Y: 10}},
	}}
}

func TestPreview(t *testing.T) {
	f := newDrawingFixture(t, simpleFlattener())

	w := postJSON(t, f.router, "/preview/", PreviewRequest{SVG: "<svg/>"})
	require.Equal(t, http.StatusOK, w.Code)

	// The body is a bare array of polylines.
	var polylines []geometry.Polyline
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &polylines))
	require.Len(t, polylines, 1)
	// A 10×10 drawing is scaled by 12.3 to fill the 123 mm height and
	// centered horizontally.
	assert.InDelta(t, 117.5, polylines[0][0].X, 1e-9)
	assert.InDelta(t, 0, polylines[0][0].Y, 1e-9)
	assert.InDelta(t, 240.5, polylines[0][1].X, 1e-9)
	assert.InDelta(t, 123, polylines[0][1].Y, 1e-9)

	// Nothing was drawn.
	assert.Equal(t, 0, f.runner.drawCount())
}

func TestPreviewEmptyDrawing(t *testing.T) {
	f := newDrawingFixture(t, fakeFlattener{})

	w := postJSON(t, f.router, "/preview/", PreviewRequest{SVG: "<svg/>"})
	require.Equal(t, http.StatusOK, w.Code)

	// An empty drawing is an empty top-level array, not an error and
	// not an object wrapper.
	var polylines []json.RawMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &polylines))
	assert.Empty(t, polylines)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestPreviewParseError(t *testing.T) {
	f := newDrawingFixture(t, fakeFlattener{err: fmt.Errorf("%w: boom", svg.ErrParse)})

	w := postJSON(t, f.router, "/preview/", PreviewRequest{SVG: "not svg"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPreviewMissingSVG(t *testing.T) {
	f := newDrawingFixture(t, simpleFlattener())
	w := postJSON(t, f.router, "/preview/", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPrintOnce(t *testing.T) {
	f := newDrawingFixture(t, simpleFlattener())

	w := postJSON(t, f.router, "/print/", PrintRequest{SVG: "<svg/>"})
	require.Equal(t, http.StatusNoContent, w.Code)

	require.Eventually(t, func() bool {
		return f.runner.drawCount() == 1
	}, time.Second, 5*time.Millisecond)

	f.runner.mu.Lock()
	job := f.runner.drawn[0]
	f.runner.mu.Unlock()
	assert.Equal(t, robot.AdHocSource, job.Source)
	assert.NotEmpty(t, job.ID)
}

func TestPrintOnceBusy(t *testing.T) {
	f := newDrawingFixture(t, simpleFlattener())

	require.True(t, f.gate.TryAcquire())
	defer f.gate.Release()

	w := postJSON(t, f.router, "/print/", PrintRequest{SVG: "<svg/>"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, 0, f.runner.drawCount())
}

func TestPrintScheduledParksJob(t *testing.T) {
	f := newDrawingFixture(t, simpleFlattener())

	w := postJSON(t, f.router, "/print/", PrintRequest{SVG: "<svg/>", Mode: ModeScheduled})
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.True(t, f.sched.PendingScheduled())
	assert.Equal(t, 0, f.runner.drawCount())
}

func TestPrintManualTransformOutOfBounds(t *testing.T) {
	f := newDrawingFixture(t, simpleFlattener())

	w := postJSON(t, f.router, "/print/", PrintRequest{
		SVG:     "<svg/>",
		OffsetX: 10000,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 0, f.runner.drawCount())
}

func TestPrintInvalidMode(t *testing.T) {
	f := newDrawingFixture(t, simpleFlattener())
	w := postJSON(t, f.router, "/print/", PrintRequest{SVG: "<svg/>", Mode: "later"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestErase(t *testing.T) {
	f := newDrawingFixture(t, simpleFlattener())

	req := httptest.NewRequest(http.MethodPost, "/erase/", nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusNoContent, w.Code)

	require.Eventually(t, func() bool {
		f.runner.mu.Lock()
		defer f.runner.mu.Unlock()
		return f.runner.erased == 1
	}, time.Second, 5*time.Millisecond)
}

func TestEraseBusy(t *testing.T) {
	f := newDrawingFixture(t, simpleFlattener())

	require.True(t, f.gate.TryAcquire())
	defer f.gate.Release()

	req := httptest.NewRequest(http.MethodPost, "/erase/", nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
