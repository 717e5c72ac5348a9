// Package upload initiates uploads and hands the results to the
// activation poller.
//
// Every input is processed independently: a missing path or a failed
// initiation is recorded in that input's Outcome and never stops the
// batch. Only successfully initiated objects are polled.
package upload

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/3leaps/filecast/pkg/activation"
	"github.com/3leaps/filecast/pkg/source"
	"github.com/3leaps/filecast/pkg/store"
)

// ErrNotFound indicates an input does not exist.
var ErrNotFound = source.ErrNotFound

// Uploader is the store capability the coordinator needs.
type Uploader interface {
	Upload(ctx context.Context, req store.UploadRequest) (*store.RemoteObject, error)
}

// Activator polls initiated objects to a terminal status.
type Activator interface {
	Run(ctx context.Context, ids []string) (*activation.Result, error)
}

// Outcome is the initiation result for one input.
type Outcome struct {
	Input Input

	// ID is set when the store accepted the upload.
	ID string

	DisplayName string
	MIMEType    string
	Size        int64

	// Err is set when the input could not be opened or initiated.
	Err error
}

// OK reports whether the input was initiated.
func (o Outcome) OK() bool {
	return o.Err == nil && o.ID != ""
}

// Config configures a Coordinator.
type Config struct {
	// Detector guesses MIME types. Default: DefaultDetector()
	Detector Detector

	// OnOutcome is called after each input is processed.
	OnOutcome func(Outcome)
}

// Coordinator uploads inputs and activates them.
type Coordinator struct {
	source    source.Source
	uploader  Uploader
	activator Activator
	config    Config
}

// New creates a coordinator.
func New(src source.Source, up Uploader, act Activator, cfg Config) *Coordinator {
	if cfg.Detector == nil {
		cfg.Detector = DefaultDetector()
	}
	return &Coordinator{
		source:    src,
		uploader:  up,
		activator: act,
		config:    cfg,
	}
}

// Result is the outcome of a coordinated upload.
type Result struct {
	// Outcomes in input order.
	Outcomes []Outcome

	// Activation is the poller result for the initiated ids.
	Activation *activation.Result
}

// Initiated returns ids of successfully initiated uploads, in input order.
func (r *Result) Initiated() []string {
	var ids []string
	for _, o := range r.Outcomes {
		if o.OK() {
			ids = append(ids, o.ID)
		}
	}
	return ids
}

// Failed returns outcomes that were not initiated.
func (r *Result) Failed() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if !o.OK() {
			out = append(out, o)
		}
	}
	return out
}

// OK requires every input initiated and every initiated object active.
func (r *Result) OK() bool {
	if len(r.Failed()) > 0 {
		return false
	}
	return r.Activation == nil || r.Activation.OK()
}

// Run initiates every input, then activates the initiated ids.
//
// The returned error is non-nil only if ctx ended polling early; the
// result is populated either way.
func (c *Coordinator) Run(ctx context.Context, inputs []Input) (*Result, error) {
	res := &Result{Outcomes: c.Initiate(ctx, inputs)}

	ids := res.Initiated()
	if len(ids) == 0 {
		res.Activation = &activation.Result{}
		return res, nil
	}

	act, err := c.activator.Run(ctx, ids)
	res.Activation = act
	if res.Activation == nil {
		res.Activation = &activation.Result{}
	}
	return res, err
}

// Initiate submits each input and returns one outcome per input.
func (c *Coordinator) Initiate(ctx context.Context, inputs []Input) []Outcome {
	outcomes := make([]Outcome, 0, len(inputs))
	for _, in := range inputs {
		o := c.initiate(ctx, in)
		if c.config.OnOutcome != nil {
			c.config.OnOutcome(o)
		}
		outcomes = append(outcomes, o)
	}
	return outcomes
}

func (c *Coordinator) initiate(ctx context.Context, in Input) Outcome {
	o := Outcome{Input: in, Size: -1}

	obj, err := c.source.Open(ctx, in.Ref)
	if err != nil {
		o.Err = err
		return o
	}
	defer func() { _ = obj.Body.Close() }()

	o.Size = obj.Size
	o.DisplayName = in.DisplayName
	if o.DisplayName == "" {
		o.DisplayName = obj.Name
	}

	br := bufio.NewReaderSize(obj.Body, SniffLen)
	head, err := br.Peek(SniffLen)
	if err != nil && !errors.Is(err, io.EOF) {
		o.Err = fmt.Errorf("read %s: %w", in.Ref, err)
		return o
	}

	o.MIMEType = c.mimeType(in, obj, head)

	remote, err := c.uploader.Upload(ctx, store.UploadRequest{
		DisplayName: o.DisplayName,
		MIMEType:    o.MIMEType,
		Body:        br,
		Size:        obj.Size,
	})
	if err != nil {
		o.Err = err
		return o
	}
	o.ID = remote.ID
	return o
}

// mimeType picks the explicit override, then a specific type recorded by
// the source, then detection.
func (c *Coordinator) mimeType(in Input, obj *source.Object, head []byte) string {
	if in.MIMEType != "" {
		return in.MIMEType
	}
	if ct := baseType(obj.ContentType); ct != "" && ct != FallbackMIMEType && ct != "binary/octet-stream" {
		return ct
	}
	return DetectMIMEType(c.config.Detector, obj.Name, head)
}
