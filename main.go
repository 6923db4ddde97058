package main

import (
	"context"
	"log"
	"os"

	"github.com/fasthttp/router"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/valyala/fasthttp"

	"studentrisk/internal/attendancefile"
	"studentrisk/internal/batch"
	"studentrisk/internal/config"
	"studentrisk/internal/db"
	"studentrisk/internal/http/handlers"
	appmw "studentrisk/internal/http/middleware"
	"studentrisk/internal/logsvc"
	"studentrisk/internal/metrics"
	"studentrisk/internal/scoring"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("%v", err)
	}

	logger := logsvc.New(log.New(os.Stderr, "", log.LstdFlags), cfg.RollbarToken, cfg.Env)
	if c, ok := logger.(interface{ Close() }); ok {
		defer c.Close()
	}

	sqlDB, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}

	if err := db.EnsureBootstrapAdmin(sqlDB, cfg.AdminUser, cfg.AdminPassword); err != nil {
		log.Fatalf("failed to ensure bootstrap admin: %v", err)
	}

	if err := metrics.Init(); err != nil {
		log.Fatalf("failed to register metrics: %v", err)
	}

	store := db.NewStore(sqlDB)
	var attendance batch.AttendanceSource = store
	if cfg.AttendanceDir != "" {
		attendance = attendancefile.New(cfg.AttendanceDir)
		logger.Info("attendance read from csv dir=%s", cfg.AttendanceDir)
	}
	runner := batch.NewRunner(store, attendance, store, scoring.NewScorer(cfg.Scoring()), batch.Options{
		Workers:  cfg.BatchWorkers,
		Logger:   logger,
		Recorder: store,
	})

	db.StartRetentionWorker(sqlDB, cfg.RetentionDays, logger)

	if cfg.ScheduleEnabled() {
		c, err := batch.StartScheduler(cfg.BatchSchedule, cfg.BatchTimeout, runner, logger)
		if err != nil {
			log.Fatalf("failed to start batch scheduler: %v", err)
		}
		defer c.Stop()
	} else {
		logger.Info("batch schedule disabled")
	}

	adminAuth := appmw.AdminAuth(func(ctx context.Context, username, password string) (*db.User, error) {
		return db.AuthenticateAdmin(ctx, sqlDB, username, password)
	}, logger)

	r := router.New()
	handler := handlers.RequestLogger(logger)(r.Handler)

	r.GET("/healthz", func(ctx *fasthttp.RequestCtx) {
		if err := db.Ping(ctx, sqlDB); err != nil {
			ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
			ctx.SetBodyString("database unavailable")
			return
		}
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetBodyString("ok")
	})
	r.GET("/metrics", handlers.MetricsHandler(prometheus.DefaultGatherer))

	r.POST("/admin/risk/run", adminAuth(handlers.RunBatch(runner, cfg.BatchTimeout, logger)))
	r.GET("/admin/risk/runs", adminAuth(handlers.ListRuns(store, logger)))

	logger.Info("listening on %s", cfg.ListenAddr)
	if err := fasthttp.ListenAndServe(cfg.ListenAddr, handler); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
