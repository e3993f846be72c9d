package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/emrgen/newsimport/internal/config"
	"github.com/emrgen/newsimport/internal/jobs"
	"github.com/emrgen/newsimport/internal/queue"
	"github.com/emrgen/newsimport/internal/service"
	"github.com/emrgen/newsimport/internal/store"
	"github.com/emrgen/newsimport/internal/telemetry"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
	"gorm.io/gorm"
)

// Server wires the store, the broker and the ingestion loop together.
type Server struct {
	cnf       *config.Config
	db        *gorm.DB
	store     *store.GormStore
	gateway   *queue.Gateway
	telemetry *telemetry.Telemetry
	ingestor  *service.Ingestor
}

// NewServer connects to the record store and the broker.
func NewServer(cnf *config.Config) (*Server, error) {
	db, err := config.GetDb(cnf)
	if err != nil {
		return nil, fmt.Errorf("open record store: %w", err)
	}

	st := store.NewGormStore(db)
	if cnf.Database.AutoMigrate {
		if err := st.Migrate(); err != nil {
			return nil, fmt.Errorf("migrate record store: %w", err)
		}
	}

	tel, err := telemetry.NewTelemetry()
	if err != nil {
		return nil, err
	}

	gateway, err := queue.Open(cnf)
	if err != nil {
		return nil, fmt.Errorf("open broker: %w", err)
	}

	topics := service.Topics{
		Summary:      cnf.Topics.Summary,
		Answer:       cnf.Topics.Answer,
		Deduplicator: cnf.Topics.Deduplicator,
	}
	ingestor := service.NewIngestor(st, gateway, topics,
		service.WithDedupWindow(cnf.Dedup.Window),
		service.WithMetrics(tel.Metrics),
	)

	return &Server{
		cnf:       cnf,
		db:        db,
		store:     st,
		gateway:   gateway,
		telemetry: tel,
		ingestor:  ingestor,
	}, nil
}

// Close releases the broker and the database.
func (s *Server) Close() {
	if err := s.gateway.Close(); err != nil {
		logrus.Errorf("error closing broker: %v", err)
	}
	if err := s.telemetry.Shutdown(context.Background()); err != nil {
		logrus.Errorf("error stopping telemetry: %v", err)
	}
	if sqlDB, err := s.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// Reprocess forces every notification for a single article.
func (s *Server) Reprocess(ctx context.Context, url string) error {
	plan, err := s.ingestor.Reprocess(ctx, url)
	if err != nil {
		return err
	}

	logrus.Infof("reprocessed %s: dedup=%v answer=%v summarize=%v", url, plan.Dedup, plan.Answer, plan.Summarize)
	return nil
}

// Start consumes the item topic until SIGINT or SIGTERM.
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var executor *jobs.TaskExecutor
	if s.cnf.Sweeper.Enabled {
		sweeper := jobs.NewPendingSummarySweeper(s.store, s.ingestor,
			s.cnf.Sweeper.Schedule, s.cnf.Sweeper.PendingAge, s.cnf.Sweeper.Batch, s.cnf.Sweeper.RatePerSecond)
		executor = jobs.NewTaskExecutor(sweeper)
		if err := executor.Run(); err != nil {
			return err
		}
	}

	metricsServer := &http.Server{
		Addr:              s.cnf.Metrics.Addr,
		Handler:           NewRouter(s.telemetry.Handler(), s.ping),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// make sure to wait for the workers to stop before exiting
	var wg sync.WaitGroup
	stopped := make(chan struct{}, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		logrus.Info("starting metrics server on: ", s.cnf.Metrics.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Errorf("error starting metrics server: %v", err)
		}
		logrus.Infof("metrics server stopped")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		loop := service.NewLoop(s.gateway, s.cnf.Topics.Item, s.ingestor, s.telemetry.Metrics)
		if err := loop.Run(ctx); err != nil {
			logrus.Errorf("ingestion loop failed: %v", err)
		}
		logrus.Infof("ingestion loop stopped")
		stopped <- struct{}{}
	}()

	// listen for interrupt signal to gracefully shut down
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, unix.SIGTERM, unix.SIGINT)
	defer signal.Stop(sigs)

	select {
	case sig := <-sigs:
		logrus.Infof("received %v, shutting down", sig)
	case <-stopped:
	}

	cancel()
	if executor != nil {
		executor.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("error stopping metrics server: %v", err)
	}

	wg.Wait()

	return nil
}

func (s *Server) ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// NewRouter serves the metrics handler and a health check.
func NewRouter(metrics http.Handler, ping func(ctx context.Context) error) *mux.Router {
	router := mux.NewRouter()
	router.Use(RequestTimeMiddleware)
	router.Handle("/metrics", metrics).Methods(http.MethodGet)
	router.HandleFunc("/healthz", HealthHandler(ping)).Methods(http.MethodGet)

	return router
}
