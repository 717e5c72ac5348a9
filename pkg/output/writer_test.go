package output

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/filecast/pkg/source"
	"github.com/3leaps/filecast/pkg/store"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []Record {
	t.Helper()
	var out []Record
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var rec Record
		require.NoError(t, json.Unmarshal([]byte(line), &rec), "line: %s", line)
		out = append(out, rec)
	}
	return out
}

func TestJSONLWriter_Envelope(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run-123", "upload")

	err := w.WriteUpload(context.Background(), &UploadRecord{
		Input:    "media/clip.mp4",
		ID:       "files/abc",
		MIMEType: "video/mp4",
		Size:     1048576,
	})
	require.NoError(t, err)

	recs := decodeLines(t, &buf)
	require.Len(t, recs, 1)
	assert.Equal(t, TypeUpload, recs[0].Type)
	assert.Equal(t, "run-123", recs[0].RunID)
	assert.Equal(t, "upload", recs[0].Command)
	assert.False(t, recs[0].TS.IsZero())

	var data UploadRecord
	require.NoError(t, json.Unmarshal(recs[0].Data, &data))
	assert.Equal(t, "files/abc", data.ID)
	assert.Equal(t, int64(1048576), data.Size)
}

func TestJSONLWriter_RecordTypes(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name  string
		write func(w *JSONLWriter) error
		want  string
	}{
		{"upload", func(w *JSONLWriter) error { return w.WriteUpload(ctx, &UploadRecord{Input: "a"}) }, TypeUpload},
		{"activation", func(w *JSONLWriter) error {
			return w.WriteActivation(ctx, &ActivationRecord{ID: "files/a", Status: "active", Attempts: 1})
		}, TypeActivation},
		{"deletion", func(w *JSONLWriter) error { return w.WriteDeletion(ctx, &DeletionRecord{ID: "files/a", Deleted: true}) }, TypeDeletion},
		{"query", func(w *JSONLWriter) error { return w.WriteQuery(ctx, &QueryRecord{ID: "files/a", Model: "m"}) }, TypeQuery},
		{"preflight", func(w *JSONLWriter) error {
			return w.WritePreflight(ctx, &PreflightRecord{Mode: "read-safe", Results: []PreflightCheckResult{{Capability: "store.list", Allowed: true}}})
		}, TypePreflight},
		{"error", func(w *JSONLWriter) error { return w.WriteError(ctx, &ErrorRecord{Code: ErrCodeInternal, Message: "x"}) }, TypeError},
		{"summary", func(w *JSONLWriter) error {
			return w.WriteSummary(ctx, &SummaryRecord{Counts: map[string]int{"deleted": 2}, Duration: time.Second, DurationHuman: "1s", OK: true})
		}, TypeSummary},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			w := NewJSONLWriter(&buf, "run", "cmd")
			require.NoError(t, tt.write(w))
			recs := decodeLines(t, &buf)
			require.Len(t, recs, 1)
			assert.Equal(t, tt.want, recs[0].Type)
		})
	}
}

func TestJSONLWriter_OmitEmpty(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run", "delete")
	require.NoError(t, w.WriteDeletion(context.Background(), &DeletionRecord{ID: "files/a", Deleted: true}))

	recs := decodeLines(t, &buf)
	data := string(recs[0].Data)
	assert.NotContains(t, data, "warning")
	assert.NotContains(t, data, "error")
}

func TestJSONLWriter_Close(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run", "upload")

	require.NoError(t, w.Close())

	err := w.WriteUpload(context.Background(), &UploadRecord{Input: "a"})
	assert.ErrorIs(t, err, ErrWriterClosed)
	assert.Empty(t, buf.String())
}

func TestJSONLWriter_ConcurrentWrites(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run", "delete")

	const writers = 10
	const perWriter = 100

	var wg sync.WaitGroup
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func(n int) {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				_ = w.WriteDeletion(context.Background(), &DeletionRecord{
					ID:      fmt.Sprintf("files/w%d-%d", n, j),
					Deleted: true,
				})
			}
		}(i)
	}
	wg.Wait()

	assert.Len(t, decodeLines(t, &buf), writers*perWriter)
}

func TestJSONLWriter_ContextCancellation(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run", "upload")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := w.WriteUpload(ctx, &UploadRecord{Input: "a"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, buf.String())
}

type failingWriter struct{ err error }

func (f *failingWriter) Write([]byte) (int, error) { return 0, f.err }

type shortWriteWriter struct {
	buf           bytes.Buffer
	bytesPerWrite int
}

func (sw *shortWriteWriter) Write(p []byte) (int, error) {
	if len(p) > sw.bytesPerWrite {
		p = p[:sw.bytesPerWrite]
	}
	return sw.buf.Write(p)
}

type zeroWriteWriter struct{}

func (zeroWriteWriter) Write([]byte) (int, error) { return 0, nil }

func TestJSONLWriter_WriteFailures(t *testing.T) {
	disk := errors.New("disk full")

	w := NewJSONLWriter(&failingWriter{err: disk}, "run", "upload")
	err := w.WriteUpload(context.Background(), &UploadRecord{Input: "a"})
	var writeErr *WriteError
	require.ErrorAs(t, err, &writeErr)
	assert.Equal(t, "write", writeErr.Op)
	assert.ErrorIs(t, err, disk)

	w = NewJSONLWriter(zeroWriteWriter{}, "run", "upload")
	err = w.WriteUpload(context.Background(), &UploadRecord{Input: "a"})
	assert.ErrorIs(t, err, io.ErrShortWrite)
}

func TestJSONLWriter_ShortWrite(t *testing.T) {
	sw := &shortWriteWriter{bytesPerWrite: 7}
	w := NewJSONLWriter(sw, "run", "upload")

	require.NoError(t, w.WriteUpload(context.Background(), &UploadRecord{Input: "media/clip.mp4", ID: "files/abc"}))

	recs := decodeLines(t, &sw.buf)
	require.Len(t, recs, 1)
	assert.Equal(t, TypeUpload, recs[0].Type)
}

func TestWriteError(t *testing.T) {
	underlying := errors.New("underlying error")
	err := &WriteError{Op: "marshal_data", Err: underlying}

	assert.Equal(t, "output: marshal_data: underlying error", err.Error())
	assert.ErrorIs(t, err, underlying)
}

func TestDiscard(t *testing.T) {
	ctx := context.Background()
	assert.NoError(t, Discard.WriteUpload(ctx, &UploadRecord{}))
	assert.NoError(t, Discard.WritePreflight(ctx, &PreflightRecord{}))
	assert.NoError(t, Discard.WriteSummary(ctx, &SummaryRecord{}))
	assert.NoError(t, Discard.Close())
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"store not found", &store.StoreError{Op: "Get", ID: "files/a", Err: store.ErrNotFound}, ErrCodeNotFound},
		{"api 404", &store.APIError{HTTPStatus: 404, Message: "gone"}, ErrCodeNotFound},
		{"source not found", &source.SourceError{Op: "Open", Ref: "x", Err: source.ErrNotFound}, ErrCodeNotFound},
		{"credentials", &store.APIError{HTTPStatus: 401}, ErrCodeInvalidCredentials},
		{"access denied", &store.APIError{HTTPStatus: 403}, ErrCodeAccessDenied},
		{"throttled", &store.APIError{HTTPStatus: 429}, ErrCodeThrottled},
		{"unavailable", &store.APIError{HTTPStatus: 503}, ErrCodeUnavailable},
		{"malformed", fmt.Errorf("decode: %w", store.ErrMalformedResponse), ErrCodeMalformed},
		{"transport", &store.StoreError{Op: "List", Err: store.ErrTransport}, ErrCodeTransport},
		{"deadline", context.DeadlineExceeded, ErrCodeTimeout},
		{"store reported", &store.APIError{HTTPStatus: 400, Status: "INVALID_ARGUMENT"}, ErrCodeStore},
		{"other", errors.New("boom"), ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorCode(tt.err))
		})
	}
}
