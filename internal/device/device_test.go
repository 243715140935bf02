package device

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/print-queue/internal/errs"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 10, 0, 0, 0, time.Local)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func readEntry(t *testing.T, archive []byte, entry string) string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	require.NoError(t, err)
	for _, f := range zr.File {
		if f.Name != entry {
			continue
		}
		rc, err := f.Open()
		require.NoError(t, err)
		defer rc.Close()
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		return string(data)
	}
	t.Fatalf("entry %s not found", entry)
	return ""
}

func TestPackage3MF_PlacesGcodeOnPlateOne(t *testing.T) {
	archive, err := Package3MF([]byte("G28\nG1 X10\n"))
	require.NoError(t, err)
	assert.Equal(t, "G28\nG1 X10\n", readEntry(t, archive, "Metadata/plate_1.gcode"))
}

func TestUploadName(t *testing.T) {
	assert.Equal(t, "benchy.3mf", UploadName("benchy.3mf"))
	assert.Equal(t, "benchy.gcode.3mf", UploadName("benchy.gcode"))
	assert.True(t, Is3MF("/prints/Benchy.3MF"))
	assert.False(t, Is3MF("/prints/benchy.gcode"))
}

func TestActivity_Classification(t *testing.T) {
	for _, a := range []Activity{ActivityRunning, ActivityPrepare, ActivityHeating} {
		assert.True(t, a.IsPrinting(), a)
		assert.False(t, a.IsIdle(), a)
	}
	for _, a := range []Activity{ActivityIdle, ActivityFinish, ActivityFailed} {
		assert.True(t, a.IsIdle(), a)
		assert.False(t, a.IsPrinting(), a)
	}
	assert.False(t, ActivityPause.IsIdle())
	assert.False(t, ActivityPause.IsPrinting())

	assert.Equal(t, OutcomeSuccess, ActivityFinish.Outcome())
	assert.Equal(t, OutcomeFailure, ActivityFailed.Outcome())
	assert.Equal(t, OutcomeOther, ActivityIdle.Outcome())
}

func TestController_StartPrintPackagesGcode(t *testing.T) {
	ctx := context.Background()
	sim := NewSimulator(time.Minute)
	ctrl := NewController(sim)
	require.NoError(t, ctrl.EnsureConnected(ctx))

	path := writeFile(t, "benchy.gcode", "G28\n")
	name, err := ctrl.StartPrint(ctx, path, "benchy.gcode")
	require.NoError(t, err)
	assert.Equal(t, "benchy.gcode.3mf", name)
	assert.Equal(t, []string{"benchy.gcode.3mf"}, sim.Started())
	assert.Equal(t, "benchy.gcode", ctrl.CurrentPrint())

	uploaded, ok := sim.Uploaded(name)
	require.True(t, ok)
	assert.Equal(t, "G28\n", readEntry(t, uploaded, "Metadata/plate_1.gcode"))

	ctrl.ClearCurrentPrint()
	assert.Empty(t, ctrl.CurrentPrint())
}

func TestController_StartPrintUploads3MFAsIs(t *testing.T) {
	ctx := context.Background()
	archive, err := Package3MF([]byte("G28\n"))
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "cube.3mf")
	require.NoError(t, os.WriteFile(path, archive, 0o644))

	sim := NewSimulator(time.Minute)
	ctrl := NewController(sim)
	require.NoError(t, ctrl.Connect(ctx))

	name, err := ctrl.StartPrint(ctx, path, "cube.3mf")
	require.NoError(t, err)
	assert.Equal(t, "cube.3mf", name)
	uploaded, _ := sim.Uploaded(name)
	assert.Equal(t, archive, uploaded)
}

func TestController_StartPrintErrors(t *testing.T) {
	ctx := context.Background()
	sim := NewSimulator(time.Minute)
	ctrl := NewController(sim)

	_, err := ctrl.StartPrint(ctx, "/nowhere.gcode", "x")
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.ErrDevice))
	assert.Equal(t, "Printer not connected", errs.Describe(err))

	require.NoError(t, ctrl.Connect(ctx))
	_, err = ctrl.StartPrint(ctx, filepath.Join(t.TempDir(), "missing.gcode"), "missing")
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.ErrDevice))

	sim.FailUploads(errors.New("550 storage full"))
	_, err = ctrl.StartPrint(ctx, writeFile(t, "a.gcode", "G28\n"), "a")
	require.Error(t, err)
	assert.Equal(t, "Failed to upload file: 550 storage full", errs.Describe(err))
	assert.Empty(t, sim.Started())
	assert.Empty(t, ctrl.CurrentPrint())
}

func TestController_StateRequiresConnection(t *testing.T) {
	ctx := context.Background()
	sim := NewSimulator(time.Minute)
	ctrl := NewController(sim)

	_, err := ctrl.State(ctx)
	require.Error(t, err)
	status := ctrl.Status(ctx)
	assert.False(t, status.Connected)
	assert.Equal(t, "Printer not connected", status.Error)
	assert.False(t, ctrl.IsPrinting(ctx))

	sim.SetReachable(false)
	err = ctrl.EnsureConnected(ctx)
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.ErrDevice))

	sim.SetReachable(true)
	require.NoError(t, ctrl.EnsureConnected(ctx))
	status = ctrl.Status(ctx)
	assert.True(t, status.Connected)
	require.NotNil(t, status.Status)
	assert.Equal(t, ActivityIdle, status.Status.Activity)
	assert.Nil(t, status.CurrentPrint)

	require.NoError(t, ctrl.Disconnect())
	assert.False(t, ctrl.IsConnected())
	require.NoError(t, ctrl.Disconnect())
}

func TestSimulator_ProgressesToFinish(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	sim := NewSimulator(10*time.Minute, WithSimClock(clock.Now))
	ctrl := NewController(sim)
	require.NoError(t, ctrl.Connect(ctx))

	_, err := ctrl.StartPrint(ctx, writeFile(t, "a.gcode", "G28\n"), "a")
	require.NoError(t, err)

	st, err := ctrl.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, ActivityPrepare, st.Activity)
	assert.Equal(t, 10, st.RemainingMinutes)

	clock.Advance(5 * time.Minute)
	st, err = ctrl.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, ActivityRunning, st.Activity)
	assert.Equal(t, 50, st.Percentage)
	assert.Equal(t, 50, st.CurrentLayer)
	assert.True(t, ctrl.IsPrinting(ctx))

	_, err = ctrl.StartPrint(ctx, writeFile(t, "b.gcode", "G28\n"), "b")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBusy)

	clock.Advance(5 * time.Minute)
	st, err = ctrl.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, ActivityFinish, st.Activity)
	assert.Equal(t, 100, st.Percentage)
	assert.Equal(t, "0", st.ErrorCode)
	assert.Equal(t, "a.3mf", st.SubtaskName)
}

func TestSimulator_InjectedFailure(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	sim := NewSimulator(time.Minute, WithSimClock(clock.Now))
	require.NoError(t, sim.Connect(ctx))

	archive, err := Package3MF([]byte("G28\n"))
	require.NoError(t, err)
	require.NoError(t, sim.UploadArtifact(ctx, archive, "a.3mf"))

	sim.FailNextPrint("E1")
	require.NoError(t, sim.StartJob(ctx, "a.3mf", 1))
	clock.Advance(time.Minute)

	st, err := sim.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, ActivityFailed, st.Activity)
	assert.Equal(t, "E1", st.ErrorCode)

	// the injected failure applies to one job only
	require.NoError(t, sim.StartJob(ctx, "a.3mf", 1))
	clock.Advance(time.Minute)
	st, err = sim.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, ActivityFinish, st.Activity)
}

func TestSimulator_RejectsBadUploads(t *testing.T) {
	ctx := context.Background()
	sim := NewSimulator(time.Minute)
	require.NoError(t, sim.Connect(ctx))

	assert.Error(t, sim.UploadArtifact(ctx, []byte("G28\n"), "raw.3mf"))
	assert.Error(t, sim.StartJob(ctx, "raw.3mf", 1))

	sim.SetReachable(false)
	assert.False(t, sim.IsConnected())
	assert.ErrorIs(t, sim.Connect(ctx), ErrUnreachable)
	_, err := sim.State(ctx)
	assert.ErrorIs(t, err, ErrUnreachable)
}
