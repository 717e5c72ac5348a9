// Package output provides the JSONL run report.
//
// Each line is a typed record envelope that can be parsed on its own.
// A report holds one record per upload, activation verdict and deletion,
// followed by a summary.
package output

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/3leaps/filecast/pkg/source"
	"github.com/3leaps/filecast/pkg/store"
)

// Record type constants follow the pattern filecast.<type>.v<version>.
const (
	TypeUpload     = "filecast.upload.v1"
	TypeActivation = "filecast.activation.v1"
	TypeDeletion   = "filecast.deletion.v1"
	TypeQuery      = "filecast.query.v1"
	TypePreflight  = "filecast.preflight.v1"
	TypeError      = "filecast.error.v1"
	TypeSummary    = "filecast.summary.v1"
)

// Record is the envelope for every report line.
type Record struct {
	// Type identifies the payload (e.g., "filecast.upload.v1").
	Type string `json:"type"`

	TS time.Time `json:"ts"`

	// RunID correlates the records of one invocation.
	RunID string `json:"run_id"`

	// Command is the CLI verb that produced the record.
	Command string `json:"command"`

	Data json.RawMessage `json:"data"`
}

// UploadRecord describes one upload initiation.
type UploadRecord struct {
	// Input is the local path or source URI as given.
	Input       string `json:"input"`
	ID          string `json:"id,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	MIMEType    string `json:"mime_type,omitempty"`
	Size        int64  `json:"size,omitempty"`
	Error       string `json:"error,omitempty"`
	ErrorCode   string `json:"error_code,omitempty"`
}

// ActivationRecord describes the final activation verdict for one id.
type ActivationRecord struct {
	ID                string `json:"id"`
	Status            string `json:"status"`
	LastObservedState string `json:"last_observed_state,omitempty"`
	Attempts          int    `json:"attempts"`
	Error             string `json:"error,omitempty"`
}

// DeletionRecord describes one delete call.
type DeletionRecord struct {
	ID        string `json:"id"`
	Deleted   bool   `json:"deleted"`
	Warning   string `json:"warning,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`
}

// QueryRecord describes one generation request.
type QueryRecord struct {
	ID           string   `json:"id"`
	Model        string   `json:"model"`
	FinishReason string   `json:"finish_reason,omitempty"`
	TextBytes    int      `json:"text_bytes"`
	Warnings     []string `json:"warnings,omitempty"`
	Error        string   `json:"error,omitempty"`
	ErrorCode    string   `json:"error_code,omitempty"`
}

// ErrorRecord describes a failure that ended the run.
type ErrorRecord struct {
	Code    string `json:"code"`
	Message string `json:"message"`

	// ID is the object related to this error, if any.
	ID string `json:"id,omitempty"`

	Details any `json:"details,omitempty"`
}

// SummaryRecord is emitted last.
type SummaryRecord struct {
	// Counts maps an outcome (e.g., "active", "deleted") to its count.
	Counts map[string]int `json:"counts"`

	Duration      time.Duration `json:"duration_ns"`
	DurationHuman string        `json:"duration"`

	// OK mirrors the process exit status.
	OK bool `json:"ok"`
}

// PreflightRecord reports which store capabilities a credential has.
type PreflightRecord struct {
	Mode    string                 `json:"mode"`
	Results []PreflightCheckResult `json:"results"`
}

// PreflightCheckResult is the outcome of one capability check.
type PreflightCheckResult struct {
	Capability string `json:"capability"`
	Allowed    bool   `json:"allowed"`
	Method     string `json:"method"`
	ErrorCode  string `json:"error_code,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

// Error codes for records.
const (
	ErrCodeAccessDenied       = "ACCESS_DENIED"
	ErrCodeInvalidCredentials = "INVALID_CREDENTIALS"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeThrottled          = "THROTTLED"
	ErrCodeUnavailable        = "UNAVAILABLE"
	ErrCodeTransport          = "TRANSPORT"
	ErrCodeMalformed          = "MALFORMED_RESPONSE"
	ErrCodeStore              = "STORE_ERROR"
	ErrCodeTimeout            = "TIMEOUT"
	ErrCodeInternal           = "INTERNAL"
)

// ErrorCode classifies err into a record error code. It returns "" for nil.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, store.ErrNotFound), source.IsNotFound(err):
		return ErrCodeNotFound
	case errors.Is(err, store.ErrInvalidCredentials):
		return ErrCodeInvalidCredentials
	case errors.Is(err, store.ErrAccessDenied), source.IsAccessDenied(err):
		return ErrCodeAccessDenied
	case errors.Is(err, store.ErrThrottled):
		return ErrCodeThrottled
	case errors.Is(err, store.ErrUnavailable):
		return ErrCodeUnavailable
	case errors.Is(err, store.ErrMalformedResponse):
		return ErrCodeMalformed
	case errors.Is(err, store.ErrTransport):
		return ErrCodeTransport
	case errors.Is(err, context.DeadlineExceeded):
		return ErrCodeTimeout
	case store.IsAPIError(err):
		return ErrCodeStore
	default:
		return ErrCodeInternal
	}
}

var (
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer is closed")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // "marshal_data", "marshal_record" or "write"
	Err error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
