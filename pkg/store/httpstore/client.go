package httpstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/3leaps/filecast/pkg/store"
)

// Client implements the store interfaces over HTTP.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// Ensure Client implements the interfaces.
var (
	_ store.Store     = (*Client)(nil)
	_ store.Deleter   = (*Client)(nil)
	_ store.Uploader  = (*Client)(nil)
	_ store.Generator = (*Client)(nil)
)

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
//
// The supplied client's own timeouts are left untouched; per-call
// deadlines from Config still apply through the request context.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// New creates a new HTTP store client.
func New(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	c := &Client{
		cfg:        cfg,
		httpClient: newHTTPClient(cfg),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// newHTTPClient builds a client whose dialer and TLS handshake are bounded
// by the connect timeout. The total-call timeout is applied per request.
func newHTTPClient(cfg Config) *http.Client {
	dialer := &net.Dialer{
		Timeout:   cfg.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}
	return &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			DialContext:         dialer.DialContext,
			TLSHandshakeTimeout: cfg.ConnectTimeout,
			MaxIdleConns:        10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// List returns a page of objects.
func (c *Client) List(ctx context.Context, opts store.ListOptions) (*store.ListResult, error) {
	pageSize := clampPageSize(opts.PageSize, c.cfg.DefaultPageSize)

	q := url.Values{}
	q.Set("pageSize", strconv.Itoa(pageSize))
	if opts.PageToken != "" {
		q.Set("pageToken", opts.PageToken)
	}
	endpoint := c.apiURL("files") + "?" + q.Encode()

	body, err := c.do(ctx, "List", "", http.MethodGet, endpoint, nil, "", nil, c.cfg.RequestTimeout)
	if err != nil {
		return nil, err
	}

	var page struct {
		Files         []store.RemoteObject `json:"files"`
		NextPageToken string               `json:"nextPageToken"`
		Error         *store.Status        `json:"error"`
	}
	if err := decode("List", "", body, &page); err != nil {
		return nil, err
	}
	if page.Error != nil {
		return nil, &store.StoreError{Op: "List", Err: apiErrorFromStatus(http.StatusOK, page.Error)}
	}
	for i := range page.Files {
		if page.Files[i].ID == "" {
			return nil, malformed("List", "", fmt.Errorf("entry %d has no name", i))
		}
	}

	return &store.ListResult{
		Objects:       page.Files,
		NextPageToken: page.NextPageToken,
	}, nil
}

// Get returns current metadata for a single object.
func (c *Client) Get(ctx context.Context, id string) (*store.RemoteObject, error) {
	body, err := c.do(ctx, "Get", id, http.MethodGet, c.apiURL(id), nil, "", nil, c.cfg.RequestTimeout)
	if err != nil {
		return nil, err
	}

	var obj store.RemoteObject
	if err := decode("Get", id, body, &obj); err != nil {
		return nil, err
	}
	if obj.ID == "" {
		// Without a name the only meaningful payload is a store error.
		if obj.Error != nil {
			return nil, &store.StoreError{Op: "Get", ID: id, Err: apiErrorFromStatus(http.StatusOK, obj.Error)}
		}
		return nil, malformed("Get", id, fmt.Errorf("response has no name"))
	}
	return &obj, nil
}

// Delete deletes an object.
func (c *Client) Delete(ctx context.Context, id string) (*store.DeleteResult, error) {
	body, err := c.do(ctx, "Delete", id, http.MethodDelete, c.apiURL(id), nil, "", nil, c.cfg.RequestTimeout)
	if err != nil {
		return nil, err
	}

	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" || trimmed == "{}" {
		return &store.DeleteResult{}, nil
	}

	var envelope struct {
		Error *store.Status `json:"error"`
	}
	if json.Unmarshal(body, &envelope) == nil && envelope.Error != nil {
		return nil, &store.StoreError{Op: "Delete", ID: id, Err: apiErrorFromStatus(http.StatusOK, envelope.Error)}
	}
	return &store.DeleteResult{Body: truncate(trimmed, 512)}, nil
}

// Upload initiates a multipart upload of one object.
//
// The body is streamed: metadata and bytes are written into a pipe while
// the request is in flight.
func (c *Client) Upload(ctx context.Context, req store.UploadRequest) (*store.RemoteObject, error) {
	if req.Body == nil {
		return nil, &store.StoreError{Op: "Upload", Err: fmt.Errorf("upload body is required")}
	}
	mimeType := req.MIMEType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	metadata, err := json.Marshal(map[string]any{
		"file": map[string]string{"display_name": req.DisplayName},
	})
	if err != nil {
		return nil, &store.StoreError{Op: "Upload", Err: err}
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeUploadBody(mw, metadata, mimeType, req.Body))
	}()
	defer func() { _ = pr.Close() }()

	headers := http.Header{}
	headers.Set("X-Goog-Upload-Protocol", "multipart")
	contentType := "multipart/related; boundary=" + mw.Boundary()

	body, err := c.do(ctx, "Upload", "", http.MethodPost, c.uploadURL("files"), pr, contentType, headers, c.cfg.UploadTimeout)
	if err != nil {
		return nil, err
	}

	var created struct {
		File  *store.RemoteObject `json:"file"`
		Error *store.Status       `json:"error"`
	}
	if err := decode("Upload", "", body, &created); err != nil {
		return nil, err
	}
	if created.Error != nil {
		return nil, &store.StoreError{Op: "Upload", Err: apiErrorFromStatus(http.StatusOK, created.Error)}
	}
	if created.File == nil || created.File.ID == "" {
		return nil, malformed("Upload", "", fmt.Errorf("response has no file name"))
	}
	return created.File, nil
}

func writeUploadBody(mw *multipart.Writer, metadata []byte, mimeType string, body io.Reader) error {
	metaPart, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type": {"application/json; charset=UTF-8"},
	})
	if err != nil {
		return err
	}
	if _, err := metaPart.Write(metadata); err != nil {
		return err
	}

	dataPart, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type": {mimeType},
	})
	if err != nil {
		return err
	}
	if _, err := io.Copy(dataPart, body); err != nil {
		return err
	}
	return mw.Close()
}

// Generate runs a generateContent call and returns the raw response body.
func (c *Client) Generate(ctx context.Context, model string, req *store.GenerateRequest) ([]byte, error) {
	model = strings.TrimPrefix(strings.TrimSpace(model), "models/")
	if model == "" {
		return nil, &store.StoreError{Op: "Generate", Err: fmt.Errorf("model is required")}
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, &store.StoreError{Op: "Generate", Err: err}
	}

	endpoint := c.apiURL("models/" + url.PathEscape(model) + ":generateContent")
	return c.do(ctx, "Generate", "", http.MethodPost, endpoint, bytes.NewReader(payload), "application/json", nil, c.cfg.RequestTimeout)
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// do performs one HTTP call and returns the body of a 2xx response.
//
// Non-2xx responses become *store.APIError; failures before a complete
// response (including timeouts) wrap store.ErrTransport.
func (c *Client) do(ctx context.Context, op, id, method, endpoint string, body io.Reader, contentType string, headers http.Header, timeout time.Duration) ([]byte, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, method, endpoint, body)
	if err != nil {
		return nil, &store.StoreError{Op: op, ID: id, Err: err}
	}
	for k, v := range headers {
		req.Header[k] = v
	}
	req.Header.Set("x-goog-api-key", c.cfg.APIKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &store.StoreError{Op: op, ID: id, Err: fmt.Errorf("%w: %v", store.ErrTransport, err)}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &store.StoreError{Op: op, ID: id, Err: fmt.Errorf("%w: read body: %v", store.ErrTransport, err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &store.StoreError{Op: op, ID: id, Err: apiErrorFromBody(resp.StatusCode, respBody)}
	}
	return respBody, nil
}

func (c *Client) apiURL(path string) string {
	return c.cfg.Endpoint + "/" + c.cfg.APIVersion + "/" + path
}

func (c *Client) uploadURL(path string) string {
	return c.cfg.Endpoint + "/upload/" + c.cfg.APIVersion + "/" + path
}

func decode(op, id string, body []byte, v any) error {
	if len(bytes.TrimSpace(body)) == 0 {
		return malformed(op, id, fmt.Errorf("empty body"))
	}
	if err := json.Unmarshal(body, v); err != nil {
		return malformed(op, id, err)
	}
	return nil
}

func malformed(op, id string, err error) error {
	return &store.StoreError{Op: op, ID: id, Err: fmt.Errorf("%w: %v", store.ErrMalformedResponse, err)}
}

func apiErrorFromBody(httpStatus int, body []byte) *store.APIError {
	var envelope struct {
		Error *store.Status `json:"error"`
	}
	if json.Unmarshal(body, &envelope) == nil && envelope.Error != nil {
		return apiErrorFromStatus(httpStatus, envelope.Error)
	}
	return &store.APIError{
		HTTPStatus: httpStatus,
		Message:    truncate(strings.TrimSpace(string(body)), 512),
	}
}

func apiErrorFromStatus(httpStatus int, s *store.Status) *store.APIError {
	apiErr := &store.APIError{
		HTTPStatus: httpStatus,
		Code:       s.Code,
		Message:    s.Message,
		Status:     s.Status,
	}
	// A 2xx envelope carrying an error is classified by its own code.
	if httpStatus >= 200 && httpStatus <= 299 && s.Code != 0 {
		apiErr.HTTPStatus = s.Code
	}
	return apiErr
}

// clampPageSize applies defaults and limits to page size values.
func clampPageSize(requested, def int) int {
	if requested <= 0 {
		requested = def
	}
	if requested > MaxPageSize {
		return MaxPageSize
	}
	return requested
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
