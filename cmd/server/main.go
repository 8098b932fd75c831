package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	assignmenthandler "limscore/internal/assignment/handler"
	assignmentservice "limscore/internal/assignment/service"
	"limscore/internal/audit"
	cataloghandler "limscore/internal/catalog/handler"
	catalogstore "limscore/internal/catalog/store"
	intakehandler "limscore/internal/intake/handler"
	intakeservice "limscore/internal/intake/service"
	labstore "limscore/internal/lab/store"
	"limscore/internal/jwttoken"
	"limscore/internal/jwttoken/revocation"
	"limscore/internal/platform/config"
	"limscore/internal/platform/httpserver"
	"limscore/internal/platform/logger"
	"limscore/internal/platform/metrics"
	"limscore/internal/platform/middleware"
	platformredis "limscore/internal/platform/redis"
	reviewhandler "limscore/internal/review/handler"
	reviewservice "limscore/internal/review/service"
	statushandler "limscore/internal/status/handler"
	statusservice "limscore/internal/status/service"
	workorderhandler "limscore/internal/workorder/handler"
	workorderservice "limscore/internal/workorder/service"
	workorderstore "limscore/internal/workorder/store"
	"limscore/pkg/platform/tx"
)

// main wires dependencies and owns the process lifecycle. With no database
// configured everything runs on in-memory stores, which is the local dev and
// test mode; kafka and redis are likewise optional.
func main() {
	_ = godotenv.Load()

	cfg := config.FromEnv()
	log := logger.New()

	var (
		db        *sql.DB
		runner    tx.Runner
		orders    intakeservice.OrderStore
		woStore   workorderservice.Store
		lab       combinedLabStore
		catalog   combinedCatalogStore
		auditSink auditStore
	)
	if cfg.DatabaseURL != "" {
		var err error
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			log.Error("open database failed", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := db.Ping(); err != nil {
			log.Error("database ping failed", "error", err)
			os.Exit(1)
		}
		runner = tx.NewSQLRunner(db)
		pg := workorderstore.NewPostgres(db)
		orders, woStore = pg, pg
		lab = labstore.NewPostgres(db)
		catalog = catalogstore.NewPostgres(db)
		auditSink = audit.NewPostgresStore(db)
		log.Info("using postgres storage")
	} else {
		runner = tx.NewMemoryRunner()
		mem := workorderstore.NewInMemory()
		orders, woStore = mem, mem
		lab = labstore.NewInMemory()
		catalog = catalogstore.NewInMemory()
		auditSink = audit.NewInMemoryStore()
		log.Warn("no database configured, using in-memory storage")
	}

	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("redis connection failed", "error", err)
		os.Exit(1)
	}
	var revocationList jwttoken.RevocationList
	limiter := middleware.Counter(middleware.NewMemoryCounter())
	if redisClient != nil {
		defer redisClient.Close()
		revocationList = revocation.NewRedisTRL(redisClient.Client)
		limiter = middleware.NewRedisCounter(redisClient.Client)
		log.Info("token revocation and rate limiting backed by redis")
	}
	tokens := jwttoken.NewService(cfg.JWTSigningKey, "limscore", revocationList)

	m := metrics.New()
	auditor := audit.NewPublisher(auditSink)

	workorderSvc := workorderservice.NewService(woStore, auditor, runner)
	intakeSvc := intakeservice.NewService(orders, lab, catalog, auditor, runner, m)
	assignmentSvc := assignmentservice.NewService(lab, auditor, runner)
	reviewSvc := reviewservice.NewService(lab, auditor, runner, m, cfg.WarningTolerance)
	statusSvc := statusservice.NewService(lab, auditor, runner)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(log))
	r.Use(middleware.Logger(log))
	r.Use(middleware.Latency(m))
	r.Use(middleware.RateLimit(limiter, log, cfg.RateLimit.Limit, cfg.RateLimit.Window))
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Group(func(r chi.Router) {
		r.Use(middleware.ContentTypeJSON)
		r.Use(middleware.RequireAuth(tokens, log))
		workorderhandler.New(workorderSvc, log).Register(r)
		cataloghandler.New(catalog, log).Register(r)
		intakehandler.New(intakeSvc, log).Register(r)
		assignmenthandler.New(assignmentSvc, log).Register(r)
		reviewhandler.New(reviewSvc, log).Register(r)
		statushandler.New(statusSvc, log).Register(r)
	})

	kafkaClient, err := audit.NewKafkaClient(cfg.Kafka.Brokers)
	if err != nil {
		log.Error("kafka connection failed", "error", err)
		os.Exit(1)
	}
	dispatcher := audit.NewDispatcher(auditSink, kafkaClient, log, cfg.OutboxPollInterval)
	defer dispatcher.Close()

	srv := httpserver.New(cfg.Addr, r)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting limscore", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		err := dispatcher.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}

// combinedLabStore is everything the lab-facing services need. Both the
// memory and postgres stores satisfy it.
type combinedLabStore interface {
	intakeservice.LabStore
	assignmentservice.LabStore
	reviewservice.LabStore
	statusservice.LabStore
}

type combinedCatalogStore interface {
	intakeservice.Catalog
	cataloghandler.Store
}

type auditStore interface {
	audit.Store
	audit.OutboxStore
}
