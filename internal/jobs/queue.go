package jobs

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/MimeLyc/print-queue/internal/errs"
	"github.com/MimeLyc/print-queue/internal/metrics"
	"github.com/MimeLyc/print-queue/pkg/log"
)

const idPrefix = "JOB_"

// Queue holds the active jobs, in dispatch order, and the append-only archive
// of terminal jobs. One mutex covers both; every mutation is written through
// to the store before the lock is released.
type Queue struct {
	store Store
	now   func() *Timestamp

	mu        sync.Mutex
	active    []*Job
	completed []*Job
	lastSeq   int
}

type Option func(*Queue)

// WithClock overrides the timestamp source.
func WithClock(now func() *Timestamp) Option {
	return func(q *Queue) {
		q.now = now
	}
}

func NewQueue(store Store, opts ...Option) *Queue {
	q := &Queue{
		store:     store,
		now:       Now,
		active:    make([]*Job, 0),
		completed: make([]*Job, 0),
		lastSeq:   -1,
	}
	for _, opt := range opts {
		opt(q)
	}
	q.hydrateFromStore(context.Background())
	return q
}

func (q *Queue) Enqueue(req EnqueueRequest) EnqueueResult {
	q.mu.Lock()
	defer q.mu.Unlock()

	job := &Job{
		ID:       q.nextIDLocked(),
		FilePath: req.FilePath,
		FileName: req.FileName,
		Priority: req.Priority,
		Status:   StatusQueued,
		AddedAt:  q.now(),
	}
	q.active = append(q.active, job)
	slices.SortStableFunc(q.active, func(a, b *Job) int {
		return b.Priority - a.Priority
	})
	position := slices.Index(q.active, job) + 1

	q.persistLocked()
	metrics.JobsSubmittedTotal.Inc()
	q.observeLocked()
	log.Info("Job %s (%s) added at position %d", job.ID, job.FileName, position)

	return EnqueueResult{JobID: job.ID, Position: position}
}

// Remove drops a job that has not started printing.
func (q *Queue) Remove(id string) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := q.indexLocked(id)
	if i < 0 {
		return nil, errs.Newf(errs.ErrNotFound, "Job %s not found in queue", id)
	}
	job := q.active[i]
	if job.Status == StatusPrinting {
		return nil, errs.New(errs.ErrConflict, "Cannot remove job that is currently printing").
			WithContext("job_id", id)
	}

	q.active = slices.Delete(q.active, i, i+1)
	q.persistLocked()
	metrics.JobsRemovedTotal.Inc()
	q.observeLocked()
	log.Info("Job %s removed from queue", id)

	return cloneJob(job), nil
}

// PeekNext returns the first queued job in dispatch order.
func (q *Queue) PeekNext() (*Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, job := range q.active {
		if job.Status == StatusQueued {
			return cloneJob(job), true
		}
	}
	return nil, false
}

func (q *Queue) MarkPrinting(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := q.indexLocked(id)
	if i < 0 {
		return false
	}
	job := q.active[i]
	if job.Status != StatusQueued {
		return false
	}
	for _, other := range q.active {
		if other.Status == StatusPrinting {
			log.Warn("Refusing to start %s while %s is printing", id, other.ID)
			return false
		}
	}

	job.Status = StatusPrinting
	job.StartedAt = q.now()
	q.persistLocked()
	q.observeLocked()
	return true
}

func (q *Queue) MarkCompleted(id string, data *CompletionData) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := q.indexLocked(id)
	if i < 0 || q.active[i].Status != StatusPrinting {
		return false
	}
	job, _ := q.archiveLocked(id)
	job.Status = StatusCompleted
	job.CompletedAt = q.now()
	if data != nil {
		v := *data
		job.CompletionData = &v
	}

	q.persistLocked()
	metrics.JobsCompletedTotal.Inc()
	q.observeLocked()
	return true
}

// MarkFailed archives the job as failed. data may be nil when the job never
// reached the device.
func (q *Queue) MarkFailed(id string, message string, data *CompletionData) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.archiveLocked(id)
	if !ok {
		return false
	}
	job.Status = StatusFailed
	job.CompletedAt = q.now()
	job.Error = &message
	if data != nil {
		v := *data
		job.CompletionData = &v
	}

	q.persistLocked()
	metrics.JobsFailedTotal.Inc()
	q.observeLocked()
	return true
}

// archiveLocked moves an active job to the end of the archive and returns it
// for the caller to finish stamping.
func (q *Queue) archiveLocked(id string) (*Job, bool) {
	i := q.indexLocked(id)
	if i < 0 {
		return nil, false
	}
	job := q.active[i]
	q.active = slices.Delete(q.active, i, i+1)
	q.completed = append(q.completed, job)
	return job, true
}

func (q *Queue) Status() StatusSnapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	ret := StatusSnapshot{
		Queue:          cloneJobs(q.active),
		QueueLength:    len(q.active),
		CompletedCount: len(q.completed),
	}
	for _, job := range q.active {
		if job.Status == StatusPrinting {
			ret.CurrentJob = cloneJob(job)
			break
		}
	}
	return ret
}

// Get looks in the active sequence first, then the archive.
func (q *Queue) Get(id string) (*Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if i := q.indexLocked(id); i >= 0 {
		return cloneJob(q.active[i]), true
	}
	for _, job := range q.completed {
		if job.ID == id {
			return cloneJob(job), true
		}
	}
	return nil, false
}

// Recent returns up to limit archived jobs, newest first.
func (q *Queue) Recent(limit int) []*Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	if limit <= 0 {
		return []*Job{}
	}
	start := max(len(q.completed)-limit, 0)
	ret := make([]*Job, 0, len(q.completed)-start)
	for i := len(q.completed) - 1; i >= start; i-- {
		ret = append(ret, cloneJob(q.completed[i]))
	}
	return ret
}

// ArchivedSince returns archived jobs from position offset on, in archive order.
func (q *Queue) ArchivedSince(offset int) []*Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	if offset < 0 {
		offset = 0
	}
	if offset >= len(q.completed) {
		return []*Job{}
	}
	return cloneJobs(q.completed[offset:])
}

func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.statsLocked()
}

func (q *Queue) statsLocked() Stats {
	var s Stats
	for _, job := range q.active {
		if job.Status == StatusPrinting {
			s.Printing++
		} else {
			s.Queued++
		}
	}
	for _, job := range q.completed {
		if job.Status == StatusFailed {
			s.Failed++
		} else {
			s.Completed++
		}
	}
	return s
}

func (q *Queue) observeLocked() {
	s := q.statsLocked()
	metrics.QueuedJobs.Set(float64(s.Queued))
	metrics.PrintingJobs.Set(float64(s.Printing))
}

func (q *Queue) indexLocked(id string) int {
	return slices.IndexFunc(q.active, func(job *Job) bool {
		return job.ID == id
	})
}

// nextIDLocked builds JOB_<date>_<time>_<seq>. The sequence starts from the
// number of known jobs but never repeats a value handed out before, including
// values recovered from the persisted snapshot.
func (q *Queue) nextIDLocked() string {
	seq := len(q.active) + len(q.completed)
	if seq <= q.lastSeq {
		seq = q.lastSeq + 1
	}
	stamp := q.now().Format("20060102_150405")
	for {
		id := fmt.Sprintf("%s%s_%04d", idPrefix, stamp, seq)
		if !q.containsLocked(id) {
			q.lastSeq = seq
			return id
		}
		seq++
	}
}

func (q *Queue) containsLocked(id string) bool {
	if q.indexLocked(id) >= 0 {
		return true
	}
	return slices.ContainsFunc(q.completed, func(job *Job) bool {
		return job.ID == id
	})
}

func (q *Queue) updateSeqLocked(id string) {
	if !strings.HasPrefix(id, idPrefix) {
		return
	}
	i := strings.LastIndex(id, "_")
	if i < 0 {
		return
	}
	n, err := strconv.Atoi(id[i+1:])
	if err != nil {
		return
	}
	if n > q.lastSeq {
		q.lastSeq = n
	}
}

func (q *Queue) snapshotLocked() Snapshot {
	return Snapshot{
		Queue:     cloneJobs(q.active),
		Completed: cloneJobs(q.completed),
	}
}

func (q *Queue) persistLocked() {
	if q.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := q.store.Save(ctx, q.snapshotLocked()); err != nil {
		metrics.PersistenceErrorsTotal.Inc()
		log.Error("Failed to persist queue snapshot: %v", err)
	}
}

// hydrateFromStore loads the last snapshot. A job still marked printing was
// orphaned by the previous process and goes back to queued. Records filed
// under the wrong section follow their status.
func (q *Queue) hydrateFromStore(ctx context.Context) {
	if q.store == nil {
		return
	}
	loaded, err := q.store.Load(ctx)
	if err != nil {
		metrics.PersistenceErrorsTotal.Inc()
		log.Error("Failed to load queue snapshot, starting empty: %v", err)
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	recovered, misplaced := 0, 0
	seen := make(map[string]struct{}, len(loaded.Queue)+len(loaded.Completed))
	keep := func(raw *Job, section string) (*Job, bool) {
		if raw == nil || raw.ID == "" {
			return nil, false
		}
		if _, dup := seen[raw.ID]; dup {
			log.Warn("Skipping duplicate %s job %s", section, raw.ID)
			return nil, false
		}
		seen[raw.ID] = struct{}{}
		q.updateSeqLocked(raw.ID)
		return cloneJob(raw), true
	}
	addActive := func(job *Job) {
		if job.Status == StatusPrinting {
			job.Status = StatusQueued
			job.StartedAt = nil
			recovered++
		}
		job.raw = nil
		q.active = append(q.active, job)
	}

	var stray []*Job
	for _, raw := range loaded.Completed {
		job, ok := keep(raw, "archived")
		if !ok {
			continue
		}
		if job.Status.Active() {
			log.Warn("Archived job %s has status %s, moving it back to the queue", job.ID, job.Status)
			stray = append(stray, job)
			continue
		}
		q.completed = append(q.completed, job)
	}
	for _, raw := range loaded.Queue {
		job, ok := keep(raw, "queued")
		if !ok {
			continue
		}
		if job.Status.Terminal() {
			log.Warn("Queued job %s has status %s, moving it to the archive", job.ID, job.Status)
			misplaced++
			q.completed = append(q.completed, job)
			continue
		}
		addActive(job)
	}
	for _, job := range stray {
		misplaced++
		addActive(job)
	}
	if misplaced > 0 {
		slices.SortStableFunc(q.active, func(a, b *Job) int {
			return b.Priority - a.Priority
		})
	}

	log.Info("Loaded queue snapshot: %d queued, %d completed", len(q.active), len(q.completed))
	if recovered > 0 {
		log.Warn("Reset %d orphaned printing job(s) to queued", recovered)
	}
	if recovered > 0 || misplaced > 0 {
		q.persistLocked()
	}
	q.observeLocked()
}
