package device

import (
	"context"
)

// Activity is the printer's reported job state (gcode_state).
type Activity string

const (
	ActivityIdle    Activity = "IDLE"
	ActivityPrepare Activity = "PREPARE"
	ActivityHeating Activity = "HEATING"
	ActivityRunning Activity = "RUNNING"
	ActivityPause   Activity = "PAUSE"
	ActivityFinish  Activity = "FINISH"
	ActivityFailed  Activity = "FAILED"
)

// IsPrinting reports whether a job is in progress on the device.
func (a Activity) IsPrinting() bool {
	switch a {
	case ActivityRunning, ActivityPrepare, ActivityHeating:
		return true
	}
	return false
}

// IsIdle reports whether the device has stopped working on its last job.
func (a Activity) IsIdle() bool {
	switch a {
	case ActivityIdle, ActivityFinish, ActivityFailed:
		return true
	}
	return false
}

type Outcome int

const (
	OutcomeOther Outcome = iota
	OutcomeSuccess
	OutcomeFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	default:
		return "other"
	}
}

// Outcome classifies the state a finished job was left in.
func (a Activity) Outcome() Outcome {
	switch a {
	case ActivityFinish:
		return OutcomeSuccess
	case ActivityFailed:
		return OutcomeFailure
	default:
		return OutcomeOther
	}
}

type State struct {
	Connected        bool     `json:"connected"`
	Activity         Activity `json:"gcode_state"`
	Percentage       int      `json:"print_percentage"`
	CurrentLayer     int      `json:"layer_num"`
	TotalLayers      int      `json:"total_layer_num"`
	RemainingMinutes int      `json:"mc_remaining_time"`
	ErrorCode        string   `json:"print_error"`
	SubtaskName      string   `json:"subtask_name"`
}

// Adapter talks to one physical printer. Implementations own the wire protocol.
type Adapter interface {
	Connect(ctx context.Context) error
	Disconnect() error
	IsConnected() bool
	State(ctx context.Context) (State, error)
	UploadArtifact(ctx context.Context, data []byte, name string) error
	StartJob(ctx context.Context, name string, plate int) error
}
