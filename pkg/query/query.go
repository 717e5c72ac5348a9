// Package query runs a single generation request against an uploaded
// object and classifies the answer.
package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/3leaps/filecast/pkg/store"
)

// Defaults for generation requests.
const (
	DefaultModel           = "gemini-1.5-flash"
	DefaultMaxOutputTokens = 8192
)

// Classification errors.
var (
	ErrEmptyPrompt     = errors.New("prompt is empty")
	ErrInvalidID       = errors.New("invalid object id")
	ErrMissingLocator  = errors.New("object metadata has no uri")
	ErrMissingMIMEType = errors.New("object metadata has no mime type")
	ErrPromptBlocked   = errors.New("prompt blocked")
	ErrNoCandidates    = errors.New("response has no candidates")
	ErrSafety          = errors.New("response blocked for safety")
	ErrFinishReason    = errors.New("unexpected finish reason")
	ErrEmptyResponse   = errors.New("response body is empty")
)

// Mode selects what Run returns.
type Mode string

const (
	// ModeText extracts the generated text.
	ModeText Mode = "text"

	// ModeRaw returns the unparsed response body.
	ModeRaw Mode = "raw"
)

// Sampling holds the fixed sampling parameters.
type Sampling struct {
	Temperature float64
	TopP        float64
	TopK        int
}

// DefaultSampling returns the sampling parameters used for every query.
func DefaultSampling() Sampling {
	return Sampling{Temperature: 0.2, TopP: 0.95, TopK: 40}
}

// Request is one query.
type Request struct {
	TargetID string
	Prompt   string

	// Model defaults to the executor's model.
	Model string

	// MaxOutputTokens defaults to the executor's token cap.
	MaxOutputTokens int

	Mode Mode
}

// Store is the store capability the executor needs.
type Store interface {
	Get(ctx context.Context, id string) (*store.RemoteObject, error)
	Generate(ctx context.Context, model string, req *store.GenerateRequest) ([]byte, error)
}

// Config configures an Executor.
type Config struct {
	// Model is the default model. Default: DefaultModel
	Model string

	// MaxOutputTokens is the default token cap. Default: DefaultMaxOutputTokens
	MaxOutputTokens int

	// Sampling is sent with every request. Default: DefaultSampling()
	Sampling *Sampling
}

// Response is a classified answer.
type Response struct {
	// Text is the generated text (text mode).
	Text string

	// Raw is the unparsed body (raw mode).
	Raw []byte

	FinishReason string

	// Warnings are non-fatal observations, such as empty text.
	Warnings []string

	// Object is the resolved target.
	Object *store.RemoteObject
}

// Executor resolves the target and submits the generation request once.
type Executor struct {
	store  Store
	config Config
}

// New creates an executor.
func New(s Store, cfg Config) *Executor {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = DefaultMaxOutputTokens
	}
	if cfg.Sampling == nil {
		def := DefaultSampling()
		cfg.Sampling = &def
	}
	return &Executor{store: s, config: cfg}
}

// Validate checks a request before any network activity and returns the
// canonical target id.
func Validate(req Request) (string, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return "", ErrEmptyPrompt
	}
	id, ok := store.NormalizeID(req.TargetID)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, req.TargetID)
	}
	if req.MaxOutputTokens < 0 {
		return "", fmt.Errorf("max output tokens must not be negative: %d", req.MaxOutputTokens)
	}
	return id, nil
}

// Run resolves the target, submits the request and classifies the answer.
// There is no retry.
func (e *Executor) Run(ctx context.Context, req Request) (*Response, error) {
	id, err := Validate(req)
	if err != nil {
		return nil, err
	}

	obj, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", id, err)
	}
	if obj.URI == "" {
		return nil, fmt.Errorf("resolve %s: %w", id, ErrMissingLocator)
	}
	if obj.MIMEType == "" {
		return nil, fmt.Errorf("resolve %s: %w", id, ErrMissingMIMEType)
	}

	model := req.Model
	if model == "" {
		model = e.config.Model
	}
	maxTokens := req.MaxOutputTokens
	if maxTokens == 0 {
		maxTokens = e.config.MaxOutputTokens
	}

	body, err := e.store.Generate(ctx, model, BuildRequest(obj, req.Prompt, *e.config.Sampling, maxTokens))
	if err != nil {
		return nil, err
	}

	if req.Mode == ModeRaw {
		if len(strings.TrimSpace(string(body))) == 0 {
			return nil, ErrEmptyResponse
		}
		return &Response{Raw: body, Object: obj}, nil
	}

	resp, err := Classify(body)
	if err != nil {
		return nil, err
	}
	resp.Object = obj
	return resp, nil
}

// BuildRequest embeds the prompt and a file reference.
func BuildRequest(obj *store.RemoteObject, prompt string, s Sampling, maxTokens int) *store.GenerateRequest {
	return &store.GenerateRequest{
		Contents: []store.Content{{
			Role: "user",
			Parts: []store.Part{
				{Text: prompt},
				{FileData: &store.FileData{MIMEType: obj.MIMEType, FileURI: obj.URI}},
			},
		}},
		GenerationConfig: &store.GenerationConfig{
			Temperature:     s.Temperature,
			TopP:            s.TopP,
			TopK:            s.TopK,
			MaxOutputTokens: maxTokens,
		},
	}
}

// Classify decodes a generation response and applies the checks in order:
// store error, prompt block, no candidates, safety finish, other non-stop
// finish. The answer is the text of the first part of the first
// candidate; later parts are ignored. Empty text is a warning, not an
// error.
func Classify(body []byte) (*Response, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, ErrEmptyResponse
	}

	var gr store.GenerateResponse
	if err := json.Unmarshal(body, &gr); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrMalformedResponse, err)
	}

	if gr.Error != nil {
		return nil, &store.APIError{Code: gr.Error.Code, Message: gr.Error.Message, Status: gr.Error.Status}
	}
	if gr.PromptFeedback != nil && gr.PromptFeedback.BlockReason != "" {
		return nil, fmt.Errorf("%w: %s", ErrPromptBlocked, gr.PromptFeedback.BlockReason)
	}
	if len(gr.Candidates) == 0 {
		return nil, ErrNoCandidates
	}

	cand := gr.Candidates[0]
	switch cand.FinishReason {
	case store.FinishReasonSafety:
		return nil, safetyError(cand.SafetyRatings)
	case "", store.FinishReasonStop:
	default:
		return nil, fmt.Errorf("%w: %s", ErrFinishReason, cand.FinishReason)
	}

	resp := &Response{FinishReason: cand.FinishReason}
	if cand.Content != nil && len(cand.Content.Parts) > 0 {
		resp.Text = cand.Content.Parts[0].Text
	}
	if resp.Text == "" {
		resp.Warnings = append(resp.Warnings, "response text is empty")
	}
	return resp, nil
}

func safetyError(ratings []store.SafetyRating) error {
	var flagged []string
	for _, r := range ratings {
		if r.Blocked || r.Probability == "HIGH" || r.Probability == "MEDIUM" {
			flagged = append(flagged, r.Category+"="+r.Probability)
		}
	}
	if len(flagged) == 0 {
		return ErrSafety
	}
	return fmt.Errorf("%w: %s", ErrSafety, strings.Join(flagged, ", "))
}
