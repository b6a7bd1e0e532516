package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/dbrgn/iboardbot-web/internal/api"
	"github.com/dbrgn/iboardbot-web/internal/config"
	"github.com/dbrgn/iboardbot-web/internal/robot"
	"github.com/dbrgn/iboardbot-web/internal/scheduler"
	"github.com/dbrgn/iboardbot-web/internal/state"
	"github.com/dbrgn/iboardbot-web/internal/svg"
	"github.com/dbrgn/iboardbot-web/internal/webhook"
)

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logrus.WithError(err).Fatal("invalid config")
	}

	log := newLogger(cfg.Logging)
	log.WithField("config", *configPath).Info("starting iboardbot controller")

	if err := os.MkdirAll(filepath.Dir(cfg.State.Path), 0o755); err != nil {
		log.WithError(err).Fatal("failed to create state directory")
	}
	store, err := state.Open(cfg.State.Path)
	if err != nil {
		log.WithError(err).Fatal("failed to open state store")
	}
	defer store.Close()

	link, err := robot.Open(cfg.Robot.Device, cfg.Robot.BaudRate, robot.LinkConfig{
		ConnectTimeout: cfg.Robot.ConnectTimeout,
		AckTimeout:     cfg.Robot.AckTimeout,
		MaxAttempts:    cfg.Robot.MaxRetries,
	}, log)
	if err != nil {
		log.WithError(err).WithField("device", cfg.Robot.Device).Fatal("failed to open serial device")
	}
	defer link.Close()
	log.WithField("device", cfg.Robot.Device).Info("robot connected")

	executor := robot.NewExecutor(link, log)
	flattener := svg.NewPathFlattener()
	gate := scheduler.NewGate()

	var notifier scheduler.Notifier
	var sender *webhook.Sender
	if cfg.Webhook.URL != "" {
		sender = webhook.NewSender(webhook.Config{
			URL:     cfg.Webhook.URL,
			Secret:  cfg.Webhook.Secret,
			Timeout: cfg.Webhook.Timeout,
		}, log)
		notifier = sender
		defer sender.Stop()
	}

	var window *scheduler.Window
	if cfg.Headless.WindowStart != "" {
		w, err := scheduler.ParseWindow(cfg.Headless.WindowStart, cfg.Headless.WindowEnd)
		if err != nil {
			log.WithError(err).Fatal("invalid draw window")
		}
		window = &w
	}

	var rotation *scheduler.Rotation
	if cfg.Headless.SVGDir != "" {
		rotation = scheduler.NewRotation(cfg.Headless.SVGDir, store)
		log.WithField("dir", cfg.Headless.SVGDir).Info("unattended rotation enabled")
	}

	sched := scheduler.New(scheduler.Config{
		Interval: cfg.Headless.Interval,
		Window:   window,
	}, gate, executor, flattener, rotation, store, notifier, log)
	sched.Start()
	defer sched.Stop()

	gin.SetMode(gin.ReleaseMode)
	router := api.NewRouter(api.Deps{
		Sched:     sched,
		Flattener: flattener,
		Link:      link,
		Executor:  executor,
		Store:     store,
		Config:    cfg,
		Log:       log,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		log.WithField("addr", srv.Addr).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("http server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Error("http shutdown failed")
	}
}

func newLogger(cfg config.LoggingConfig) *logrus.Logger {
	log := logrus.New()
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	if cfg.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log
}
