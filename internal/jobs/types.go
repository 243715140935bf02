package jobs

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type Status int

const (
	StatusQueued Status = iota
	StatusPrinting
	StatusCompleted
	StatusFailed
)

var statusNames = [...]string{
	StatusQueued:    "queued",
	StatusPrinting:  "printing",
	StatusCompleted: "completed",
	StatusFailed:    "failed",
}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return "Status(" + strconv.Itoa(int(s)) + ")"
	}
	return statusNames[s]
}

// Active reports whether a job with this status belongs in the active sequence.
func (s Status) Active() bool {
	return s == StatusQueued || s == StatusPrinting
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func ParseStatus(v string) (Status, error) {
	for i, name := range statusNames {
		if name == v {
			return Status(i), nil
		}
	}
	return 0, fmt.Errorf("unknown job status %q", v)
}

func (s Status) MarshalJSON() ([]byte, error) {
	if s < 0 || int(s) >= len(statusNames) {
		return nil, fmt.Errorf("invalid job status %d", int(s))
	}
	return json.Marshal(statusNames[s])
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("job status: %w", err)
	}
	parsed, err := ParseStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// timestampLayout is a zone-less local wall-clock time. Fractional seconds are
// written only when non-zero.
const timestampLayout = "2006-01-02T15:04:05"

// Timestamp is a point in time stored with microsecond precision.
type Timestamp struct {
	time.Time
}

// Now returns the current local time truncated to microseconds, so that it
// survives a snapshot round trip unchanged.
func Now() *Timestamp {
	return &Timestamp{Time: time.Now().Truncate(time.Microsecond)}
}

func (t Timestamp) String() string {
	if t.Nanosecond() == 0 {
		return t.Format(timestampLayout)
	}
	return t.Format(timestampLayout + ".000000")
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	parsed, err := ParseTimestamp(raw)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func ParseTimestamp(raw string) (Timestamp, error) {
	raw = strings.TrimSpace(raw)
	if v, err := time.ParseInLocation(timestampLayout, raw, time.Local); err == nil {
		return Timestamp{Time: v}, nil
	}
	v, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return Timestamp{}, fmt.Errorf("invalid timestamp %q", raw)
	}
	return Timestamp{Time: v.In(time.Local)}, nil
}

// ErrorCode is a device error code. Printers send it as an integer, some
// firmware as a string; the JSON token read is the one written back.
type ErrorCode struct {
	raw json.RawMessage
}

// NewErrorCode wraps a device-reported code. Integer codes encode as JSON
// numbers, the way printers report them.
func NewErrorCode(code string) ErrorCode {
	code = strings.TrimSpace(code)
	if code == "" {
		return ErrorCode{}
	}
	if _, err := strconv.ParseInt(code, 10, 64); err == nil {
		return ErrorCode{raw: json.RawMessage(code)}
	}
	data, _ := json.Marshal(code)
	return ErrorCode{raw: data}
}

func (c ErrorCode) String() string {
	if len(c.raw) == 0 || string(c.raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(c.raw, &s); err == nil {
		return s
	}
	return string(c.raw)
}

// None reports whether the code carries no error.
func (c ErrorCode) None() bool {
	s := c.String()
	return s == "" || s == "0"
}

// MarshalJSON writes the token as read. An unset code is the printer's 0.
func (c ErrorCode) MarshalJSON() ([]byte, error) {
	if len(c.raw) == 0 {
		return []byte("0"), nil
	}
	return c.raw, nil
}

func (c *ErrorCode) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("print_error: %w", err)
	}
	switch v.(type) {
	case nil, string, json.Number:
	default:
		return fmt.Errorf("print_error: unexpected value %s", data)
	}
	c.raw = append(json.RawMessage(nil), data...)
	return nil
}

// CompletionData is the device state recorded when a job reaches a terminal status.
type CompletionData struct {
	Filename        string    `json:"filename"`
	GcodeState      string    `json:"gcode_state"`
	PrintPercentage int       `json:"print_percentage"`
	LayerNum        int       `json:"layer_num"`
	TotalLayerNum   int       `json:"total_layer_num"`
	RemainingTime   int       `json:"remaining_time"`
	PrintError      ErrorCode `json:"print_error"`
	SubtaskName     string    `json:"subtask_name"`
}

type Job struct {
	ID             string          `json:"id"`
	FilePath       string          `json:"file_path"`
	FileName       string          `json:"file_name"`
	Priority       int             `json:"priority"`
	Status         Status          `json:"status"`
	AddedAt        *Timestamp      `json:"added_at"`
	StartedAt      *Timestamp      `json:"started_at"`
	CompletedAt    *Timestamp      `json:"completed_at"`
	Error          *string         `json:"error"`
	CompletionData *CompletionData `json:"completion_data"`

	// raw is the record as loaded. Archived jobs never change, so they are
	// written back exactly as read.
	raw json.RawMessage
}

// jobFields has Job's fields without its methods.
type jobFields Job

func (j *Job) UnmarshalJSON(data []byte) error {
	var v jobFields
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*j = Job(v)
	j.raw = append(json.RawMessage(nil), data...)
	return nil
}

func (j Job) MarshalJSON() ([]byte, error) {
	if j.raw != nil && j.Status.Terminal() {
		return j.raw, nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(jobFields(j)); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// ErrorMessage returns the failure message, or "" when none is set.
func (j *Job) ErrorMessage() string {
	if j == nil || j.Error == nil {
		return ""
	}
	return *j.Error
}

func (j *Job) String() string {
	return fmt.Sprintf("Job{ID: %s, File: %s, Priority: %d, Status: %s}", j.ID, j.FileName, j.Priority, j.Status)
}

// Snapshot is the persisted queue state: the active sequence in dispatch order
// and the archive in completion order.
type Snapshot struct {
	Queue     []*Job `json:"queue"`
	Completed []*Job `json:"completed"`
}

type EnqueueRequest struct {
	FilePath string
	FileName string
	Priority int
}

type EnqueueResult struct {
	JobID    string `json:"job_id"`
	Position int    `json:"position"`
}

// StatusSnapshot is a read-only view of the queue.
type StatusSnapshot struct {
	Queue          []*Job `json:"queue"`
	QueueLength    int    `json:"queue_length"`
	CompletedCount int    `json:"completed_count"`
	CurrentJob     *Job   `json:"current_job"`
}

type Stats struct {
	Queued    int
	Printing  int
	Completed int
	Failed    int
}

func cloneJob(job *Job) *Job {
	if job == nil {
		return nil
	}
	tmp := *job
	if job.AddedAt != nil {
		v := *job.AddedAt
		tmp.AddedAt = &v
	}
	if job.StartedAt != nil {
		v := *job.StartedAt
		tmp.StartedAt = &v
	}
	if job.CompletedAt != nil {
		v := *job.CompletedAt
		tmp.CompletedAt = &v
	}
	if job.Error != nil {
		v := *job.Error
		tmp.Error = &v
	}
	if job.CompletionData != nil {
		v := *job.CompletionData
		tmp.CompletionData = &v
	}
	return &tmp
}

func cloneJobs(list []*Job) []*Job {
	ret := make([]*Job, 0, len(list))
	for _, job := range list {
		ret = append(ret, cloneJob(job))
	}
	return ret
}
