package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MimeLyc/print-queue/internal/device"
	"github.com/MimeLyc/print-queue/internal/errs"
	"github.com/MimeLyc/print-queue/internal/jobs"
	"github.com/MimeLyc/print-queue/internal/metrics"
	"github.com/MimeLyc/print-queue/pkg/log"
)

const (
	DefaultInterval    = 5 * time.Second
	DefaultStopTimeout = 10 * time.Second

	statusReadTimeout = 5 * time.Second
)

var ErrStopTimeout = errors.New("monitor did not stop in time")

// Queue is the part of jobs.Queue the monitor drives.
type Queue interface {
	PeekNext() (*jobs.Job, bool)
	MarkPrinting(id string) bool
	MarkCompleted(id string, data *jobs.CompletionData) bool
	MarkFailed(id string, message string, data *jobs.CompletionData) bool
	Get(id string) (*jobs.Job, bool)
}

// Printer is the part of device.Controller the monitor drives.
type Printer interface {
	EnsureConnected(ctx context.Context) error
	IsConnected() bool
	State(ctx context.Context) (device.State, error)
	StartPrint(ctx context.Context, artifactRef, displayName string) (string, error)
	CurrentPrint() string
	ClearCurrentPrint()
}

// Status is the view served by the monitor status endpoint.
type Status struct {
	Monitoring       bool    `json:"monitoring"`
	CurrentJobID     *string `json:"current_job_id"`
	PrinterConnected bool    `json:"printer_connected"`
	PrinterPrinting  bool    `json:"printer_printing"`
}

// Monitor dispatches queued jobs to the printer one at a time and records
// their outcome. Only the loop goroutine changes the current job.
type Monitor struct {
	queue   Queue
	printer Printer

	mu           sync.Mutex
	interval     time.Duration
	currentJobID string
	running      bool
	stop         chan struct{}
	done         chan struct{}
}

type Option func(*Monitor)

func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

func New(queue Queue, printer Printer, opts ...Option) *Monitor {
	m := &Monitor{
		queue:    queue,
		printer:  printer,
		interval: DefaultInterval,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start launches the loop. Calling it while the loop runs does nothing. A loop
// abandoned by a timed-out Stop finishes its tick before the new one begins.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		log.Info("Monitor already running")
		return
	}
	prev := m.done
	stop, done := make(chan struct{}), make(chan struct{})
	m.running = true
	m.stop = stop
	m.done = done
	go func() {
		if prev != nil {
			<-prev
		}
		m.loop(ctx, stop, done)
	}()
	log.Info("Print monitor started (interval %s)", m.interval)
}

// Stop asks the loop to exit and waits up to timeout for the tick in flight.
// The loop is abandoned, not killed, when the wait runs out.
func (m *Monitor) Stop(timeout time.Duration) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	close(m.stop)
	done := m.done
	m.mu.Unlock()

	select {
	case <-done:
		log.Info("Print monitor stopped")
		return nil
	case <-time.After(timeout):
		log.Warn("Print monitor did not stop within %s", timeout)
		return ErrStopTimeout
	}
}

func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Monitor) SetInterval(d time.Duration) error {
	if d <= 0 {
		return errs.Newf(errs.ErrValidation, "monitor interval must be positive, got %s", d)
	}
	m.mu.Lock()
	m.interval = d
	m.mu.Unlock()
	log.Info("Monitor interval set to %s", d)
	return nil
}

func (m *Monitor) Interval() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.interval
}

func (m *Monitor) CurrentJobID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentJobID
}

func (m *Monitor) setCurrentJob(id string) {
	m.mu.Lock()
	m.currentJobID = id
	m.mu.Unlock()
}

func (m *Monitor) Status(ctx context.Context) Status {
	ret := Status{
		Monitoring:       m.Running(),
		PrinterConnected: m.printer.IsConnected(),
	}
	if id := m.CurrentJobID(); id != "" {
		ret.CurrentJobID = &id
	}
	if ret.PrinterConnected {
		ctx, cancel := context.WithTimeout(ctx, statusReadTimeout)
		defer cancel()
		if st, err := m.printer.State(ctx); err == nil {
			ret.PrinterPrinting = st.Activity.IsPrinting()
		}
	}
	return ret
}

func (m *Monitor) loop(ctx context.Context, stop, done chan struct{}) {
	defer close(done)
	defer func() {
		m.mu.Lock()
		if m.done == done {
			m.running = false
		}
		m.mu.Unlock()
	}()

	// A tick in flight finishes its device I/O even after shutdown starts;
	// Stop bounds how long anyone waits for it.
	tickCtx := context.WithoutCancel(ctx)
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		m.safeTick(tickCtx)

		timer := time.NewTimer(m.Interval())
		select {
		case <-stop:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (m *Monitor) safeTick(ctx context.Context) {
	err := errs.SafeExecute(func() error {
		return m.Tick(ctx)
	})
	if err != nil {
		metrics.MonitorTickErrorsTotal.WithLabelValues(errs.KindOf(err).String()).Inc()
		errs.LogRecovered("Error in monitor loop", err)
	}
}

// Tick runs one monitor step: connect if needed, then either dispatch the next
// job or check the one in progress.
func (m *Monitor) Tick(ctx context.Context) error {
	if err := m.printer.EnsureConnected(ctx); err != nil {
		log.Warn("Cannot process queue: printer not connected")
		return err
	}

	if id := m.CurrentJobID(); id != "" {
		return m.checkCurrentJob(ctx, id)
	}
	return m.startNextJob(ctx)
}

func (m *Monitor) startNextJob(ctx context.Context) error {
	next, ok := m.queue.PeekNext()
	if !ok {
		return nil
	}

	log.Info("Starting next job: %s - %s", next.ID, next.FileName)
	if !m.queue.MarkPrinting(next.ID) {
		// removed between peek and mark, or another job is printing
		log.Warn("Job %s could not be marked printing, skipping this tick", next.ID)
		return nil
	}
	m.setCurrentJob(next.ID)

	if _, err := m.printer.StartPrint(ctx, next.FilePath, next.FileName); err != nil {
		log.Error("Failed to start print job %s: %v", next.ID, err)
		m.queue.MarkFailed(next.ID, "Failed to start: "+errs.Describe(err), nil)
		m.finishCurrent()
		return nil
	}

	metrics.JobsDispatchedTotal.Inc()
	log.Info("Successfully started print job: %s", next.FileName)
	return nil
}

func (m *Monitor) checkCurrentJob(ctx context.Context, id string) error {
	st, err := m.printer.State(ctx)
	if err != nil {
		return errs.Wrap(err, errs.ErrDevice, "Error checking current job").WithContext("job_id", id)
	}

	switch {
	case st.Activity.IsPrinting():
		log.Info("Current job %s is printing... %d%% complete", id, st.Percentage)
		return nil
	case !st.Activity.IsIdle():
		log.Debug("Current job %s waiting in state %s", id, st.Activity)
		return nil
	}

	log.Info("Print job %s has completed", id)
	data := completionData(m.printer.CurrentPrint(), st)

	var recorded bool
	switch st.Activity.Outcome() {
	case device.OutcomeSuccess:
		log.Info("Job %s completed successfully", id)
		recorded = m.queue.MarkCompleted(id, data)
	case device.OutcomeFailure:
		code := st.ErrorCode
		if code == "" {
			code = "Unknown error"
		}
		log.Warn("Job %s failed with error: %s", id, code)
		recorded = m.queue.MarkFailed(id, "Print failed: "+code, data)
	default:
		log.Info("Job %s ended with state: %s", id, st.Activity)
		recorded = m.queue.MarkCompleted(id, data)
	}
	if !recorded {
		log.Warn("Job %s was no longer printing when its outcome arrived", id)
	}

	m.observeDuration(id)
	m.finishCurrent()
	return nil
}

func (m *Monitor) finishCurrent() {
	m.setCurrentJob("")
	m.printer.ClearCurrentPrint()
}

func (m *Monitor) observeDuration(id string) {
	job, ok := m.queue.Get(id)
	if !ok || job.StartedAt == nil || job.CompletedAt == nil {
		return
	}
	metrics.JobPrintDuration.Observe(job.CompletedAt.Sub(job.StartedAt.Time).Seconds())
}

func completionData(filename string, st device.State) *jobs.CompletionData {
	return &jobs.CompletionData{
		Filename:        filename,
		GcodeState:      string(st.Activity),
		PrintPercentage: st.Percentage,
		LayerNum:        st.CurrentLayer,
		TotalLayerNum:   st.TotalLayers,
		RemainingTime:   st.RemainingMinutes,
		PrintError:      jobs.NewErrorCode(st.ErrorCode),
		SubtaskName:     st.SubtaskName,
	}
}
