package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/nova/internal/model/api"
	"github.com/zhouzirui/nova/internal/model/auth"
	"github.com/zhouzirui/nova/internal/model/catalog"
	"github.com/zhouzirui/nova/internal/model/feedback"
	"github.com/zhouzirui/nova/internal/model/task"
	"github.com/zhouzirui/nova/internal/model/upload"
)

const maxErrorBody = 64 << 10

// Client talks to the assistant backend. It is safe for concurrent use.
type Client struct {
	baseURL        *url.URL
	http           *http.Client
	log            zerolog.Logger
	onUnauthorized func()

	mu    sync.RWMutex
	token string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the timeout of plain request/response calls. Streams are
// bounded by their context only.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithToken starts the client with a bearer token from an earlier login.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// OnUnauthorized registers fn to run whenever the backend answers 401.
func OnUnauthorized(fn func()) Option {
	return func(c *Client) { c.onUnauthorized = fn }
}

// New creates a client for the backend at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url %q must be http or https", baseURL)
	}

	c := &Client{
		baseURL: u,
		http:    &http.Client{Timeout: 30 * time.Second},
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the backend root.
func (c *Client) BaseURL() string { return c.baseURL.String() }

// Token returns the current bearer token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// SetToken replaces the bearer token. An empty token logs the client out.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Login exchanges credentials for a profile and keeps its token.
func (c *Client) Login(ctx context.Context, creds auth.Credentials) (auth.Profile, error) {
	var profile auth.Profile
	if err := c.doJSON(ctx, http.MethodPost, "/api/login", creds, &profile); err != nil {
		return auth.Profile{}, err
	}
	if profile.Token == "" {
		return auth.Profile{}, &APIError{Status: http.StatusBadGateway, Message: "login response carried no token"}
	}
	if profile.Name == "" {
		profile.Name = creds.Username
	}
	c.SetToken(profile.Token)
	return profile, nil
}

// StartTask submits a query to the route of service.
func (c *Client) StartTask(ctx context.Context, service string, req task.StartRequest) (task.StartResponse, error) {
	if service == "" {
		service = catalog.DefaultServiceID
	}
	body, err := c.do(ctx, http.MethodPost, "/api/"+url.PathEscape(service), req)
	if err != nil {
		return task.StartResponse{}, err
	}

	// Ids are accepted at the top level and inside the envelope data.
	var resp struct {
		api.Envelope
		task.StartResponse
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return task.StartResponse{}, fmt.Errorf("decode task start: %w", err)
	}
	if resp.Status == api.StatusError {
		return task.StartResponse{}, &APIError{Status: http.StatusOK, Message: resp.Message}
	}
	if resp.StartResponse.ID() == "" {
		var nested task.StartResponse
		if err := resp.Decode(&nested); err != nil {
			return task.StartResponse{}, fmt.Errorf("decode task start data: %w", err)
		}
		return nested, nil
	}
	return resp.StartResponse, nil
}

// SendFeedback records a like or dislike for an answer.
func (c *Client) SendFeedback(ctx context.Context, req feedback.Request) (feedback.Response, error) {
	if err := req.Validate(); err != nil {
		return feedback.Response{}, err
	}
	body, err := c.do(ctx, http.MethodPost, "/api/feedback", req)
	if err != nil {
		return feedback.Response{}, err
	}
	var env api.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return feedback.Response{}, fmt.Errorf("decode feedback response: %w", err)
	}
	if !env.OK() {
		return feedback.Response{}, &APIError{Status: http.StatusOK, Message: env.Message}
	}
	return feedback.Response{Status: env.Status, Message: env.Message}, nil
}

// ListServices returns the backend service catalog.
func (c *Client) ListServices(ctx context.Context) ([]catalog.Service, error) {
	var services []catalog.Service
	if err := c.doJSON(ctx, http.MethodGet, "/api/services", nil, &services); err != nil {
		return nil, err
	}
	return services, nil
}

// Upload sends the file at path. Type and size are checked before anything
// is sent.
func (c *Client) Upload(ctx context.Context, path string) (upload.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return upload.File{}, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return upload.File{}, fmt.Errorf("stat upload: %w", err)
	}
	if info.Size() > upload.MaxSize {
		return upload.File{}, fmt.Errorf("%w: %d bytes (max %d)", ErrFileTooLarge, info.Size(), upload.MaxSize)
	}
	name := filepath.Base(path)
	contentType, ok := ContentTypeFor(name)
	if !ok {
		return upload.File{}, fmt.Errorf("%w: %s", ErrUnsupportedType, filepath.Ext(name))
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(name)))
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	if err != nil {
		return upload.File{}, fmt.Errorf("create form part: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return upload.File{}, fmt.Errorf("copy upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return upload.File{}, fmt.Errorf("close form: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/upload", &buf)
	if err != nil {
		return upload.File{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	body, err := c.send(req)
	if err != nil {
		return upload.File{}, err
	}

	var file upload.File
	if err := decodeEnvelope(body, &file); err != nil {
		return upload.File{}, err
	}
	return file, nil
}

// ContentTypeFor maps a file name to an accepted upload content type.
func ContentTypeFor(name string) (string, bool) {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == ".jpeg" {
		ext = ".jpg"
	}
	for contentType, allowedExt := range upload.AllowedTypes {
		if allowedExt == ext {
			return contentType, true
		}
	}
	return "", false
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	body, err := c.do(ctx, method, path, in)
	if err != nil {
		return err
	}
	return decodeEnvelope(body, out)
}

func (c *Client) do(ctx context.Context, method, path string, in any) ([]byte, error) {
	var reader io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := c.newRequest(ctx, method, path, reader)
	if err != nil {
		return nil, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	c.authorize(req.Header)
	return req, nil
}

func (c *Client) send(req *http.Request) ([]byte, error) {
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	c.log.Debug().
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("backend call")

	if err := c.checkStatus(resp); err != nil {
		return nil, err
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", req.URL.Path, err)
	}
	return body, nil
}

// checkStatus turns a non-2xx response into an *APIError and fires the 401
// hook.
func (c *Client) checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	apiErr := &APIError{Status: resp.StatusCode}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var env api.Envelope
	if json.Unmarshal(raw, &env) == nil && env.Message != "" {
		apiErr.Message = env.Message
	} else {
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	if resp.StatusCode == http.StatusUnauthorized && c.onUnauthorized != nil {
		c.onUnauthorized()
	}
	return apiErr
}

func (c *Client) authorize(h http.Header) {
	if token := c.Token(); token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
}

func (c *Client) endpoint(path string) string {
	return c.baseURL.String() + path
}

func decodeEnvelope(body []byte, out any) error {
	var env api.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if env.Status != "" && !env.OK() {
		return &APIError{Status: http.StatusOK, Message: env.Message}
	}
	if err := env.Decode(out); err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}
	return nil
}

func escapeQuotes(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}
