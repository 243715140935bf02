package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/MimeLyc/print-queue/pkg/log"
)

const (
	simTotalLayers = 100
	// share of the print spent in PREPARE before layers start
	simPrepareShare = 0.1
)

var (
	ErrUnreachable = errors.New("printer unreachable")
	ErrBusy        = errors.New("printer busy")
)

// Simulator is an in-process printer. A started job runs for a fixed duration,
// then finishes or fails with the injected error code.
type Simulator struct {
	now      func() time.Time
	duration time.Duration

	mu        sync.Mutex
	reachable bool
	connected bool
	files     map[string][]byte
	started   []string
	uploadErr error
	failNext  string

	job      *simJob
	lastDone Activity
	lastCode string
	lastName string
}

type simJob struct {
	name     string
	start    time.Time
	failCode string
}

type SimOption func(*Simulator)

func WithSimClock(now func() time.Time) SimOption {
	return func(s *Simulator) {
		s.now = now
	}
}

func NewSimulator(duration time.Duration, opts ...SimOption) *Simulator {
	s := &Simulator{
		now:       time.Now,
		duration:  duration,
		reachable: true,
		files:     make(map[string][]byte),
		lastDone:  ActivityIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Simulator) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.reachable {
		return ErrUnreachable
	}
	s.connected = true
	return nil
}

func (s *Simulator) Disconnect() error {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
	return nil
}

func (s *Simulator) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *Simulator) State(ctx context.Context) (State, error) {
	if err := ctx.Err(); err != nil {
		return State{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return State{}, ErrUnreachable
	}
	s.advanceLocked()

	st := State{Connected: true, Activity: s.lastDone, ErrorCode: "0"}
	if s.job == nil {
		st.SubtaskName = s.lastName
		if s.lastDone == ActivityFinish || s.lastDone == ActivityFailed {
			st.Percentage = 100
			st.CurrentLayer = simTotalLayers
			st.TotalLayers = simTotalLayers
		}
		if s.lastCode != "" {
			st.ErrorCode = s.lastCode
		}
		return st, nil
	}

	elapsed := s.now().Sub(s.job.start)
	progress := float64(elapsed) / float64(s.duration)
	st.SubtaskName = s.job.name
	st.TotalLayers = simTotalLayers
	st.Percentage = int(progress * 100)
	st.RemainingMinutes = int(math.Ceil((s.duration - elapsed).Minutes()))
	if progress < simPrepareShare {
		st.Activity = ActivityPrepare
	} else {
		st.Activity = ActivityRunning
		st.CurrentLayer = int(progress * simTotalLayers)
	}
	return st, nil
}

// advanceLocked ends the running job once its duration has elapsed.
func (s *Simulator) advanceLocked() {
	if s.job == nil || s.now().Sub(s.job.start) < s.duration {
		return
	}
	s.lastName = s.job.name
	if s.job.failCode != "" {
		s.lastDone = ActivityFailed
		s.lastCode = s.job.failCode
	} else {
		s.lastDone = ActivityFinish
		s.lastCode = ""
	}
	log.Debug("Simulated print %s ended as %s", s.job.name, s.lastDone)
	s.job = nil
}

// UploadArtifact stores data under name. Like the real device, it only
// accepts 3MF archives that carry plate G-code.
func (s *Simulator) UploadArtifact(ctx context.Context, data []byte, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return ErrUnreachable
	}
	if s.uploadErr != nil {
		return s.uploadErr
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("550 %s is not a 3mf archive: %w", name, err)
	}
	found := false
	for _, f := range zr.File {
		if f.Name == plateGcodeEntry {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("550 %s has no %s", name, plateGcodeEntry)
	}
	s.files[name] = append([]byte(nil), data...)
	return nil
}

func (s *Simulator) StartJob(ctx context.Context, name string, plate int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return ErrUnreachable
	}
	if plate != defaultPlateSlot {
		return fmt.Errorf("plate %d not found in %s", plate, name)
	}
	if _, ok := s.files[name]; !ok {
		return fmt.Errorf("file %s not found on printer", name)
	}
	s.advanceLocked()
	if s.job != nil {
		return ErrBusy
	}
	s.job = &simJob{name: name, start: s.now(), failCode: s.failNext}
	s.failNext = ""
	s.lastCode = ""
	s.started = append(s.started, name)
	return nil
}

// SetReachable toggles connectivity. Going unreachable drops the session.
func (s *Simulator) SetReachable(reachable bool) {
	s.mu.Lock()
	s.reachable = reachable
	if !reachable {
		s.connected = false
	}
	s.mu.Unlock()
}

// FailNextPrint makes the next started job end as FAILED with code.
func (s *Simulator) FailNextPrint(code string) {
	s.mu.Lock()
	s.failNext = code
	s.mu.Unlock()
}

// FailUploads makes every upload return err until called with nil.
func (s *Simulator) FailUploads(err error) {
	s.mu.Lock()
	s.uploadErr = err
	s.mu.Unlock()
}

// Uploaded returns the stored bytes for name.
func (s *Simulator) Uploaded(name string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[name]
	return data, ok
}

// Started lists the names of started jobs in order.
func (s *Simulator) Started() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.started...)
}
