package output

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Writer emits run report records.
//
// Implementations must be safe for concurrent use. Each Write* method
// emits a complete record as a single line of JSON followed by a newline.
type Writer interface {
	WriteUpload(ctx context.Context, rec *UploadRecord) error
	WriteActivation(ctx context.Context, rec *ActivationRecord) error
	WriteDeletion(ctx context.Context, rec *DeletionRecord) error
	WriteQuery(ctx context.Context, rec *QueryRecord) error
	WritePreflight(ctx context.Context, rec *PreflightRecord) error
	WriteError(ctx context.Context, rec *ErrorRecord) error
	WriteSummary(ctx context.Context, rec *SummaryRecord) error

	// Close flushes any buffered output and releases resources.
	Close() error
}

// JSONLWriter writes records as newline-delimited JSON to an io.Writer.
//
// JSONLWriter is safe for concurrent use. Writes are serialized using
// a mutex so lines never interleave.
type JSONLWriter struct {
	w       io.Writer
	runID   string
	command string
	mu      sync.Mutex

	closed bool
}

// NewJSONLWriter creates a JSONL writer stamping every record with runID
// and command.
func NewJSONLWriter(w io.Writer, runID, command string) *JSONLWriter {
	return &JSONLWriter{
		w:       w,
		runID:   runID,
		command: command,
	}
}

// WriteUpload emits an upload record.
func (jw *JSONLWriter) WriteUpload(ctx context.Context, rec *UploadRecord) error {
	return jw.writeRecord(ctx, TypeUpload, rec)
}

// WriteActivation emits an activation record.
func (jw *JSONLWriter) WriteActivation(ctx context.Context, rec *ActivationRecord) error {
	return jw.writeRecord(ctx, TypeActivation, rec)
}

// WriteDeletion emits a deletion record.
func (jw *JSONLWriter) WriteDeletion(ctx context.Context, rec *DeletionRecord) error {
	return jw.writeRecord(ctx, TypeDeletion, rec)
}

func (jw *JSONLWriter) WriteQuery(ctx context.Context, rec *QueryRecord) error {
	return jw.writeRecord(ctx, TypeQuery, rec)
}

// WritePreflight emits a preflight record.
func (jw *JSONLWriter) WritePreflight(ctx context.Context, rec *PreflightRecord) error {
	return jw.writeRecord(ctx, TypePreflight, rec)
}

// WriteError emits an error record.
func (jw *JSONLWriter) WriteError(ctx context.Context, rec *ErrorRecord) error {
	return jw.writeRecord(ctx, TypeError, rec)
}

// WriteSummary emits a summary record.
func (jw *JSONLWriter) WriteSummary(ctx context.Context, rec *SummaryRecord) error {
	return jw.writeRecord(ctx, TypeSummary, rec)
}

// Close marks the writer as closed.
//
// The underlying writer is NOT closed; the caller owns it.
func (jw *JSONLWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	jw.closed = true
	return nil
}

// writeRecord marshals data into an envelope and writes it as one line.
// The mutex is held across the write so lines never interleave.
func (jw *JSONLWriter) writeRecord(ctx context.Context, recordType string, data any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return &WriteError{Op: "marshal_data", Err: err}
	}

	jw.mu.Lock()
	defer jw.mu.Unlock()

	if jw.closed {
		return ErrWriterClosed
	}

	line, err := json.Marshal(Record{
		Type:    recordType,
		TS:      time.Now().UTC(),
		RunID:   jw.runID,
		Command: jw.command,
		Data:    payload,
	})
	if err != nil {
		return &WriteError{Op: "marshal_record", Err: err}
	}

	if err := writeAll(jw.w, append(line, '\n')); err != nil {
		return &WriteError{Op: "write", Err: err}
	}
	return nil
}

// writeAll loops over short writes so a line is never truncated.
func writeAll(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}

// Discard is a Writer that drops every record.
var Discard Writer = discard{}

type discard struct{}

func (discard) WriteUpload(context.Context, *UploadRecord) error         { return nil }
func (discard) WriteActivation(context.Context, *ActivationRecord) error { return nil }
func (discard) WriteDeletion(context.Context, *DeletionRecord) error     { return nil }
func (discard) WriteQuery(context.Context, *QueryRecord) error           { return nil }
func (discard) WritePreflight(context.Context, *PreflightRecord) error   { return nil }
func (discard) WriteError(context.Context, *ErrorRecord) error           { return nil }
func (discard) WriteSummary(context.Context, *SummaryRecord) error       { return nil }
func (discard) Close() error                                             { return nil }

// Compile-time check that JSONLWriter implements Writer.
var _ Writer = (*JSONLWriter)(nil)
