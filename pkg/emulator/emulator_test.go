package emulator_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/filecast/pkg/emulator"
	"github.com/3leaps/filecast/pkg/store"
	"github.com/3leaps/filecast/pkg/store/httpstore"
)

func setup(t *testing.T, opts emulator.Options) (*emulator.Server, *httptest.Server, *httpstore.Client) {
	t.Helper()
	opts.APIKey = "k"
	emu := emulator.New(opts)
	srv := httptest.NewServer(emu.Handler())
	t.Cleanup(srv.Close)

	c, err := httpstore.New(httpstore.Config{Endpoint: srv.URL, APIKey: "k"})
	require.NoError(t, err)
	return emu, srv, c
}

func upload(t *testing.T, c *httpstore.Client, name string) *store.RemoteObject {
	t.Helper()
	obj, err := c.Upload(context.Background(), store.UploadRequest{
		DisplayName: name,
		MIMEType:    "text/plain",
		Body:        strings.NewReader("hello"),
		Size:        5,
	})
	require.NoError(t, err)
	return obj
}

func TestEmulator_RejectsMissingKey(t *testing.T) {
	_, srv, _ := setup(t, emulator.Options{})

	resp, err := http.Get(srv.URL + "/v1beta/files")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	var env struct {
		Error store.Status `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	assert.Equal(t, "PERMISSION_DENIED", env.Error.Status)
}

func TestEmulator_ActivatesAfterReads(t *testing.T) {
	emu, _, c := setup(t, emulator.Options{ActivateAfter: 3})
	obj := upload(t, c, "notes.txt")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		got, err := c.Get(ctx, obj.ID)
		require.NoError(t, err)
		assert.Equal(t, store.StateProcessing, got.State)
	}
	got, err := c.Get(ctx, obj.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StateActive, got.State)
	assert.Equal(t, 3, emu.Calls(emulator.CallGet))
	assert.Equal(t, 1, emu.Calls(emulator.CallUpload))
}

func TestEmulator_ActivateImmediately(t *testing.T) {
	_, _, c := setup(t, emulator.Options{})
	obj := upload(t, c, "notes.txt")
	assert.Equal(t, store.StateActive, obj.State)
	assert.Equal(t, "5", obj.SizeBytes)
}

func TestEmulator_NeverActivates(t *testing.T) {
	_, _, c := setup(t, emulator.Options{ActivateAfter: -1})
	obj := upload(t, c, "notes.txt")

	for i := 0; i < 5; i++ {
		got, err := c.Get(context.Background(), obj.ID)
		require.NoError(t, err)
		assert.Equal(t, store.StateProcessing, got.State)
	}
}

func TestEmulator_FailPattern(t *testing.T) {
	_, _, c := setup(t, emulator.Options{ActivateAfter: 1, FailPattern: "**/*.bad"})
	obj := upload(t, c, "inputs/video.bad")

	got, err := c.Get(context.Background(), obj.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StateFailed, got.State)
	require.NotNil(t, got.Error)
	assert.Equal(t, "INVALID_ARGUMENT", got.Error.Status)
}

func TestEmulator_DeleteAndRemove(t *testing.T) {
	emu, _, c := setup(t, emulator.Options{})
	emu.Seed(
		store.RemoteObject{ID: "files/a", State: store.StateActive},
		store.RemoteObject{ID: "files/b", State: store.StateActive},
	)
	ctx := context.Background()

	_, err := c.Delete(ctx, "files/a")
	require.NoError(t, err)

	_, err = c.Delete(ctx, "files/a")
	require.Error(t, err)
	assert.True(t, store.IsNotFound(err))

	emu.Remove("files/b")
	assert.Empty(t, emu.Objects())
}

func TestEmulator_GenerateRequiresActiveFiles(t *testing.T) {
	emu, _, c := setup(t, emulator.Options{ActivateAfter: -1})
	obj := upload(t, c, "doc.txt")

	req := &store.GenerateRequest{Contents: []store.Content{{
		Role: "user",
		Parts: []store.Part{
			{Text: "summarize"},
			{FileData: &store.FileData{MIMEType: "text/plain", FileURI: obj.URI}},
		},
	}}}

	_, err := c.Generate(context.Background(), "test-model", req)
	require.Error(t, err)
	var apiErr *store.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "FAILED_PRECONDITION", apiErr.Status)

	emu.Seed(store.RemoteObject{ID: obj.ID, URI: obj.URI, State: store.StateActive})
	body, err := c.Generate(context.Background(), "test-model", req)
	require.NoError(t, err)

	var resp store.GenerateResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	require.Len(t, resp.Candidates, 1)
	assert.Equal(t, store.FinishReasonStop, resp.Candidates[0].FinishReason)
	assert.Contains(t, resp.Candidates[0].Content.Parts[0].Text, "[test-model] 1 file(s) referenced. Prompt: summarize")
}

func TestEmulator_GenerateOverride(t *testing.T) {
	_, _, c := setup(t, emulator.Options{
		Generate: func(store.GenerateRequest) (int, any) {
			return http.StatusOK, map[string]any{"promptFeedback": map[string]any{"blockReason": "SAFETY"}}
		},
	})

	body, err := c.Generate(context.Background(), "m", &store.GenerateRequest{})
	require.NoError(t, err)
	assert.Contains(t, string(body), `"blockReason":"SAFETY"`)
}

func TestEmulator_UploadRequiresMultipart(t *testing.T) {
	_, srv, _ := setup(t, emulator.Options{})

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/upload/v1beta/files", bytes.NewReader([]byte("raw")))
	require.NoError(t, err)
	req.Header.Set("x-goog-api-key", "k")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), "only multipart uploads are supported")
}
