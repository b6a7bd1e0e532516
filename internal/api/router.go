// Package api assembles the gin router for the controller's HTTP
// surface.
package api

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/dbrgn/iboardbot-web/internal/api/handlers"
	"github.com/dbrgn/iboardbot-web/internal/api/middleware"
	"github.com/dbrgn/iboardbot-web/internal/config"
	"github.com/dbrgn/iboardbot-web/internal/scheduler"
	"github.com/dbrgn/iboardbot-web/internal/state"
	"github.com/dbrgn/iboardbot-web/internal/svg"
)

type Deps struct {
	Sched     *scheduler.Scheduler
	Flattener svg.Flattener
	Link      handlers.LinkStatus
	Executor  handlers.ExecutorStatus
	Store     *state.Store
	Config    *config.Config
	Log       *logrus.Logger
}

func NewRouter(deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if deps.Log != nil {
		r.Use(middleware.RequestLogger(deps.Log))
	}

	drawing := handlers.NewDrawingHandler(deps.Sched, deps.Flattener, deps.Log)
	drawing.RegisterRoutes(r)

	status := handlers.NewStatusHandler(deps.Link, deps.Executor, deps.Sched, deps.Store, deps.Config, deps.Log)
	status.RegisterRoutes(r)

	return r
}
