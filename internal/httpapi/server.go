package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MimeLyc/print-queue/internal/archive"
	"github.com/MimeLyc/print-queue/internal/config"
	"github.com/MimeLyc/print-queue/internal/device"
	"github.com/MimeLyc/print-queue/internal/jobs"
	"github.com/MimeLyc/print-queue/internal/monitor"
	"github.com/MimeLyc/print-queue/internal/persistence"
)

type jobQueue interface {
	Enqueue(req jobs.EnqueueRequest) jobs.EnqueueResult
	Remove(id string) (*jobs.Job, error)
	Status() jobs.StatusSnapshot
	Get(id string) (*jobs.Job, bool)
	Recent(limit int) []*jobs.Job
}

type printer interface {
	Connect(ctx context.Context) error
	Disconnect() error
	IsConnected() bool
	Status(ctx context.Context) device.PrinterStatus
}

type monitorStatus interface {
	Status(ctx context.Context) monitor.Status
}

type historyStore interface {
	RecentJobs(ctx context.Context, limit int) ([]persistence.ArchivedRecord, error)
	CountByStatus(ctx context.Context) (persistence.StatusCount, error)
}

type scheduleInfo interface {
	Info(now time.Time) (archive.Info, error)
}

type runtimeSettingsStore interface {
	GetRuntimeSettings() (config.RuntimeSettings, error)
	UpdateRuntimeSettings(next config.RuntimeSettings) (config.RuntimeSettings, error)
}

type runtimeSettingsApplier func(next config.RuntimeSettings) error

type Server struct {
	queue    jobQueue
	printer  printer
	monitor  monitorStatus
	history  historyStore
	schedule scheduleInfo
	settings runtimeSettingsStore
	apply    runtimeSettingsApplier

	streamInterval time.Duration

	mux     *http.ServeMux
	handler http.Handler
	server  *http.Server
}

type Option func(*Server)

func WithMonitor(m monitorStatus) Option {
	return func(s *Server) {
		s.monitor = m
	}
}

// WithHistory enables /archive/history. schedule may be nil.
func WithHistory(history historyStore, schedule scheduleInfo) Option {
	return func(s *Server) {
		s.history = history
		s.schedule = schedule
	}
}

func WithRuntimeSettingsStore(store runtimeSettingsStore) Option {
	return func(s *Server) {
		s.settings = store
	}
}

func WithRuntimeSettingsApplier(apply runtimeSettingsApplier) Option {
	return func(s *Server) {
		s.apply = apply
	}
}

func WithStreamInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.streamInterval = d
		}
	}
}

func NewServer(queue jobQueue, printer printer, opts ...Option) *Server {
	s := &Server{
		queue:          queue,
		printer:        printer,
		streamInterval: time.Second,
		mux:            http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	s.handler = withRequestID(s.mux)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/printer/status", s.handlePrinterStatus)
	s.mux.HandleFunc("/printer/connect", s.handlePrinterConnect)
	s.mux.HandleFunc("/printer/disconnect", s.handlePrinterDisconnect)
	s.mux.HandleFunc("/queue/add", s.handleQueueAdd)
	s.mux.HandleFunc("/queue/remove/", s.handleQueueRemove)
	s.mux.HandleFunc("/queue/status", s.handleQueueStatus)
	s.mux.HandleFunc("/queue/completed", s.handleQueueCompleted)
	s.mux.HandleFunc("/queue/job/", s.handleQueueJob)
	s.mux.HandleFunc("/queue/stream", s.handleQueueStream)
	s.mux.HandleFunc("/completion/", s.handleCompletion)
	s.mux.HandleFunc("/monitor/status", s.handleMonitorStatus)
	s.mux.HandleFunc("/archive/history", s.handleArchiveHistory)
	s.mux.HandleFunc("/api/settings", s.handleSettings)
	s.mux.Handle("/metrics", promhttp.Handler())
}
