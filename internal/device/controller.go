package device

import (
	"context"
	"os"
	"sync"

	"github.com/MimeLyc/print-queue/internal/errs"
	"github.com/MimeLyc/print-queue/internal/metrics"
	"github.com/MimeLyc/print-queue/pkg/log"
)

// Controller drives a single printer through its Adapter and remembers which
// job it last started.
type Controller struct {
	adapter  Adapter
	readFile func(string) ([]byte, error)

	mu           sync.Mutex
	currentPrint string
}

type ControllerOption func(*Controller)

// WithFileReader overrides how artifacts are read from disk.
func WithFileReader(read func(string) ([]byte, error)) ControllerOption {
	return func(c *Controller) {
		c.readFile = read
	}
}

func NewController(adapter Adapter, opts ...ControllerOption) *Controller {
	c := &Controller{
		adapter:  adapter,
		readFile: os.ReadFile,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PrinterStatus is the view served by the printer status endpoint.
type PrinterStatus struct {
	Connected    bool    `json:"connected"`
	Status       *State  `json:"status,omitempty"`
	CurrentPrint *string `json:"current_print"`
	Error        string  `json:"error,omitempty"`
}

func (c *Controller) Connect(ctx context.Context) error {
	if err := c.adapter.Connect(ctx); err != nil {
		metrics.PrinterConnected.Set(0)
		return errs.Wrap(err, errs.ErrDevice, "Failed to connect to printer")
	}
	metrics.PrinterConnected.Set(1)
	log.Info("Successfully connected to printer")
	return nil
}

func (c *Controller) Disconnect() error {
	if !c.adapter.IsConnected() {
		return nil
	}
	if err := c.adapter.Disconnect(); err != nil {
		return errs.Wrap(err, errs.ErrDevice, "Error disconnecting from printer")
	}
	metrics.PrinterConnected.Set(0)
	log.Info("Disconnected from printer")
	return nil
}

func (c *Controller) IsConnected() bool {
	return c.adapter.IsConnected()
}

// EnsureConnected connects only when the adapter reports no live session.
func (c *Controller) EnsureConnected(ctx context.Context) error {
	if c.adapter.IsConnected() {
		return nil
	}
	return c.Connect(ctx)
}

func (c *Controller) State(ctx context.Context) (State, error) {
	if !c.adapter.IsConnected() {
		return State{}, errs.New(errs.ErrDevice, "Printer not connected")
	}
	st, err := c.adapter.State(ctx)
	if err != nil {
		return State{}, errs.Wrap(err, errs.ErrDevice, "Error getting printer status")
	}
	return st, nil
}

// IsPrinting is false whenever the state cannot be read.
func (c *Controller) IsPrinting(ctx context.Context) bool {
	st, err := c.State(ctx)
	if err != nil {
		return false
	}
	return st.Activity.IsPrinting()
}

func (c *Controller) Status(ctx context.Context) PrinterStatus {
	st, err := c.State(ctx)
	if err != nil {
		return PrinterStatus{Connected: false, Error: errs.Describe(err)}
	}

	ret := PrinterStatus{Connected: true, Status: &st}
	if name := c.CurrentPrint(); name != "" {
		ret.CurrentPrint = &name
	}
	return ret
}

// StartPrint uploads the artifact at artifactRef and starts it on the first
// plate. Raw G-code is packaged into a 3MF archive first. It returns the name
// the file was stored under on the printer.
func (c *Controller) StartPrint(ctx context.Context, artifactRef, displayName string) (string, error) {
	if !c.adapter.IsConnected() {
		return "", errs.New(errs.ErrDevice, "Printer not connected")
	}

	data, err := c.readFile(artifactRef)
	if err != nil {
		return "", errs.Wrap(err, errs.ErrDevice, "Failed to read print file").
			WithContext("file_path", artifactRef)
	}
	if !Is3MF(artifactRef) {
		data, err = Package3MF(data)
		if err != nil {
			return "", errs.Wrap(err, errs.ErrDevice, "Failed to package G-code")
		}
	}

	uploadName := UploadName(displayName)
	log.Info("Uploading %s to printer...", uploadName)
	if err := c.adapter.UploadArtifact(ctx, data, uploadName); err != nil {
		return "", errs.Wrap(err, errs.ErrDevice, "Failed to upload file").
			WithContext("file", uploadName)
	}

	log.Info("Starting print job for %s...", uploadName)
	if err := c.adapter.StartJob(ctx, uploadName, defaultPlateSlot); err != nil {
		return "", errs.Wrap(err, errs.ErrDevice, "Failed to start print").
			WithContext("file", uploadName)
	}

	c.mu.Lock()
	c.currentPrint = displayName
	c.mu.Unlock()
	return uploadName, nil
}

// CurrentPrint returns the display name of the job last started, or "".
func (c *Controller) CurrentPrint() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentPrint
}

func (c *Controller) ClearCurrentPrint() {
	c.mu.Lock()
	c.currentPrint = ""
	c.mu.Unlock()
}
