package archive

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"github.com/MimeLyc/print-queue/internal/errs"
	"github.com/MimeLyc/print-queue/internal/jobs"
	"github.com/MimeLyc/print-queue/internal/metrics"
	"github.com/MimeLyc/print-queue/pkg/icron"
	"github.com/MimeLyc/print-queue/pkg/log"
)

const runTimeout = time.Minute

// Source is the append-only archive of terminal jobs.
type Source interface {
	ArchivedSince(offset int) []*jobs.Job
}

// Sink stores archived jobs keyed by their archive position.
type Sink interface {
	UpsertJobs(ctx context.Context, firstSeq int, records []*jobs.Job) error
	MaxSeq(ctx context.Context) (int, error)
}

// Mirror copies newly archived jobs into the history database on a cron
// schedule. Overlapping runs collapse into one.
type Mirror struct {
	source Source
	sink   Sink
	cron   *cron.Cron
	group  singleflight.Group

	mu       sync.Mutex
	cronExpr string
	entryID  cron.EntryID
	offset   int
	lastRun  time.Time
}

func NewMirror(source Source, sink Sink, c *cron.Cron, cronExpr string) *Mirror {
	return &Mirror{
		source:   source,
		sink:     sink,
		cron:     c,
		cronExpr: cronExpr,
		offset:   -1,
	}
}

// Schedule registers the mirror with the cron engine. The caller starts it.
func (m *Mirror) Schedule(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scheduleLocked(ctx, m.cronExpr)
}

func (m *Mirror) scheduleLocked(ctx context.Context, expr string) error {
	if err := icron.Validate(expr); err != nil {
		return errs.Wrap(err, errs.ErrValidation, "invalid archive cron")
	}
	id, err := m.cron.AddFunc(expr, func() {
		runCtx, cancel := context.WithTimeout(ctx, runTimeout)
		defer cancel()
		if _, err := m.RunOnce(runCtx); err != nil {
			log.Error("Archive mirror run failed: %v", err)
		}
	})
	if err != nil {
		return errs.Wrap(err, errs.ErrValidation, "invalid archive cron")
	}
	if m.entryID != 0 {
		m.cron.Remove(m.entryID)
	}
	m.entryID = id
	m.cronExpr = expr
	log.Info("Archive mirror scheduled with %q", expr)
	return nil
}

// Reschedule swaps the cron expression, keeping a single entry.
func (m *Mirror) Reschedule(ctx context.Context, expr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if expr == m.cronExpr && m.entryID != 0 {
		return nil
	}
	return m.scheduleLocked(ctx, expr)
}

func (m *Mirror) CronExpr() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cronExpr
}

// RunOnce exports everything archived since the last run and returns how
// many jobs were written.
func (m *Mirror) RunOnce(ctx context.Context) (int, error) {
	v, err, _ := m.group.Do("mirror", func() (any, error) {
		return m.run(ctx)
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

func (m *Mirror) run(ctx context.Context) (int, error) {
	m.mu.Lock()
	offset := m.offset
	m.mu.Unlock()

	if offset < 0 {
		maxSeq, err := m.sink.MaxSeq(ctx)
		if err != nil {
			return 0, errs.Wrap(err, errs.ErrPersistence, "read archive position")
		}
		offset = maxSeq + 1
	}

	batch := m.source.ArchivedSince(offset)
	if len(batch) > 0 {
		if err := m.sink.UpsertJobs(ctx, offset, batch); err != nil {
			return 0, errs.Wrap(err, errs.ErrPersistence, "write archive batch").
				WithContext("offset", offset)
		}
		metrics.ArchiveMirroredTotal.Add(float64(len(batch)))
		log.Info("Mirrored %d archived job(s) from position %d", len(batch), offset)
	}

	m.mu.Lock()
	m.offset = offset + len(batch)
	m.lastRun = time.Now()
	m.mu.Unlock()
	return len(batch), nil
}

// Info describes the schedule around now, with LastRun set to the last
// completed run rather than the last cron slot.
type Info struct {
	*icron.TriggerInfo
	LastRun *time.Time `json:"last_run"`
	Offset  int        `json:"offset"`
}

func (m *Mirror) Info(now time.Time) (Info, error) {
	m.mu.Lock()
	expr, lastRun, offset := m.cronExpr, m.lastRun, m.offset
	m.mu.Unlock()

	trigger, err := icron.GetTriggerInfo(expr, now)
	if err != nil {
		return Info{}, err
	}
	ret := Info{TriggerInfo: trigger, Offset: max(offset, 0)}
	if !lastRun.IsZero() {
		ret.LastRun = &lastRun
	}
	return ret, nil
}
