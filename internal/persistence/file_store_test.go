package persistence

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MimeLyc/print-queue/internal/errs"
	"github.com/MimeLyc/print-queue/internal/jobs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_MissingFileIsEmpty(t *testing.T) {
	t.Parallel()

	store, err := NewFileStore(filepath.Join(t.TempDir(), "queue_data.json"))
	require.NoError(t, err)

	snapshot, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snapshot.Queue)
	assert.Empty(t, snapshot.Completed)
}

func TestFileStore_SchemaShape(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "queue_data.json")
	store, err := NewFileStore(path)
	require.NoError(t, err)

	require.NoError(t, store.Save(context.Background(), jobs.Snapshot{}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"queue\": [],\n  \"completed\": []\n}", string(data))

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestFileStore_QueueRoundTripThroughFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "queue_data.json")
	store, err := NewFileStore(path)
	require.NoError(t, err)

	q := jobs.NewQueue(store)
	done := q.Enqueue(jobs.EnqueueRequest{FilePath: "/prints/a.gcode", FileName: "a"}).JobID
	printing := q.Enqueue(jobs.EnqueueRequest{FilePath: "/prints/b.gcode", FileName: "b", Priority: 1}).JobID
	require.True(t, q.MarkPrinting(printing))
	require.True(t, q.MarkCompleted(printing, &jobs.CompletionData{Filename: "b", GcodeState: "FINISH", PrintPercentage: 100}))
	require.True(t, q.MarkPrinting(done))

	before, err := os.ReadFile(path)
	require.NoError(t, err)

	reloaded := jobs.NewQueue(store)
	after, err := os.ReadFile(path)
	require.NoError(t, err)

	var beforeDoc, afterDoc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(before, &beforeDoc))
	require.NoError(t, json.Unmarshal(after, &afterDoc))
	assert.Equal(t, string(beforeDoc["completed"]), string(afterDoc["completed"]))

	job, ok := reloaded.Get(done)
	require.True(t, ok)
	assert.Equal(t, jobs.StatusQueued, job.Status)
	assert.Nil(t, job.StartedAt)

	archived, ok := reloaded.Get(printing)
	require.True(t, ok)
	assert.Equal(t, jobs.StatusCompleted, archived.Status)
}

func TestFileStore_CorruptFileIsPersistenceError(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "queue_data.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"queue": [{"id": "JOB_1", "status": "exploded"}]}`), 0o644))

	store, err := NewFileStore(path)
	require.NoError(t, err)

	_, err = store.Load(context.Background())
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.ErrPersistence))

	q := jobs.NewQueue(store)
	assert.Equal(t, 0, q.Status().QueueLength)
	res := q.Enqueue(jobs.EnqueueRequest{FilePath: "/a", FileName: "a"})
	assert.NotEmpty(t, res.JobID)
}

func TestFileStore_ReadsLegacyDocument(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "queue_data.json")
	legacy := `{
  "queue": [
    {
      "id": "JOB_20250301_100000_0001",
      "file_path": "/prints/d.3mf",
      "file_name": "D",
      "priority": 0,
      "status": "printing",
      "added_at": "2025-03-01T10:00:00.482913",
      "started_at": "2025-03-01T10:00:05.000120",
      "completed_at": null,
      "error": null
    }
  ],
  "completed": []
}`
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0o644))

	store, err := NewFileStore(path)
	require.NoError(t, err)
	snapshot, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, snapshot.Queue, 1)
	assert.Equal(t, jobs.StatusPrinting, snapshot.Queue[0].Status)
	assert.Equal(t, "2025-03-01T10:00:00.482913", snapshot.Queue[0].AddedAt.String())
	assert.Nil(t, snapshot.Queue[0].CompletionData)
}

// written by json.dump(indent=2): ASCII-only, integer print_error, and no
// completion_data key on jobs that failed before printing
const pythonDocument = `{
  "queue": [
    {
      "id": "JOB_20250301_100000_0003",
      "file_path": "/prints/d.gcode",
      "file_name": "D",
      "priority": 0,
      "status": "queued",
      "added_at": "2025-03-01T10:00:00.482913",
      "started_at": null,
      "completed_at": null,
      "error": null
    }
  ],
  "completed": [
    {
      "id": "JOB_20250301_090000_0001",
      "file_path": "/prints/caf\u00e9.gcode",
      "file_name": "Caf\u00e9 & <b>",
      "priority": 0,
      "status": "completed",
      "added_at": "2025-03-01T09:00:00.482913",
      "started_at": "2025-03-01T09:00:05.000120",
      "completed_at": "2025-03-01T09:30:00.731",
      "error": null,
      "completion_data": {
        "filename": "Caf\u00e9 & <b>.3mf",
        "gcode_state": "FINISH",
        "print_percentage": 100,
        "layer_num": 50,
        "total_layer_num": 50,
        "remaining_time": 0,
        "print_error": 0,
        "subtask_name": "Caf\u00e9"
      }
    },
    {
      "id": "JOB_20250301_091000_0002",
      "file_path": "/prints/e.gcode",
      "file_name": "E",
      "priority": 1,
      "status": "failed",
      "added_at": "2025-03-01T09:10:00",
      "started_at": "2025-03-01T09:40:00",
      "completed_at": "2025-03-01T09:40:02",
      "error": "Failed to start: Failed to upload file"
    }
  ]
}`

func TestFileStore_ArchiveSurvivesRewriteByteForByte(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "queue_data.json")
	require.NoError(t, os.WriteFile(path, []byte(pythonDocument), 0o644))
	store, err := NewFileStore(path)
	require.NoError(t, err)

	q := jobs.NewQueue(store)
	q.Enqueue(jobs.EnqueueRequest{FilePath: "/prints/f.gcode", FileName: "Crème & <b> 😀"})

	after, err := os.ReadFile(path)
	require.NoError(t, err)

	var beforeDoc, afterDoc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(pythonDocument), &beforeDoc))
	require.NoError(t, json.Unmarshal(after, &afterDoc))
	assert.Equal(t, string(beforeDoc["completed"]), string(afterDoc["completed"]))

	assert.Contains(t, string(after), `"file_name": "Cr\u00e8me & <b> \ud83d\ude00"`)
	assert.NotContains(t, string(after), `\u0026`)
	assert.Contains(t, string(after), `"print_error": 0`)
	assert.False(t, strings.HasSuffix(string(after), "\n"))
}

func TestEscapeNonASCII(t *testing.T) {
	assert.Equal(t, `{"a": "plain"}`, string(escapeNonASCII([]byte(`{"a": "plain"}`))))
	assert.Equal(t, `"caf\u00e9 \u2603 \ud83d\ude00"`, string(escapeNonASCII([]byte("\"café ☃ 😀\""))))
}

func TestNewFileStore_RequiresPath(t *testing.T) {
	_, err := NewFileStore("  ")
	assert.Error(t, err)
}
