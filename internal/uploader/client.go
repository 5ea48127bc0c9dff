package uploader

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// defaultTimeout bounds one auth or upload request. Uploads carry a
// whole chunk, so this is far looser than a typical API call budget.
const defaultTimeout = 2 * time.Minute

const uploadPathFormat = "/connector-config/connector/integration/%s/%s/file-upload"

// ErrAuthExpired reports that the gateway rejected the session token.
// By the time Upload returns it the client has already installed a
// replacement token, so the caller only needs to try again.
var ErrAuthExpired = errors.New("uploader: session token expired")

// AuthError reports that the auth endpoint rejected the credentials or
// could not be reached. At pipeline start this aborts the whole run.
type AuthError struct {
	Status int // zero when the request never completed
	Reason string
}

func (e *AuthError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("uploader: authenticate: %s", e.Reason)
	}
	return fmt.Sprintf("uploader: authenticate: status %d: %s", e.Status, e.Reason)
}

// UploadError reports a non-success upload response or a transport
// failure for one attempt. It is transient from the caller's view.
type UploadError struct {
	Status int // zero for transport-level failures
	Reason string
}

func (e *UploadError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("uploader: upload: %s", e.Reason)
	}
	return fmt.Sprintf("uploader: upload: status %d: %s", e.Status, e.Reason)
}

// Options configure a Client.
type Options struct {
	BaseURL        string
	ConnectionUUID string
	ProfileUUID    string
	Username       string
	Password       string

	// InsecureSkipVerify disables TLS certificate verification, for
	// gateways fronted by self-signed certificates.
	InsecureSkipVerify bool

	// Timeout bounds each HTTP request. Zero means defaultTimeout.
	Timeout time.Duration
}

// Client holds the HTTP conversation with the gateway: credentials,
// the current session token, and the connection/profile routing for
// the upload endpoint.
type Client struct {
	opts Options
	http *http.Client

	// token is replaced in place on every re-authentication. The run
	// is single-threaded, so no lock; all access goes through Token
	// and setToken so one could be added without touching call sites.
	token string
}

// New builds a Client. The session token starts empty; call
// Authenticate before the first Upload.
func New(opts Options) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = defaultTimeout
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &Client{opts: opts, http: buildHTTPClient(opts)}
}

// buildHTTPClient constructs an http.Client honouring the TLS settings.
func buildHTTPClient(opts Options) *http.Client {
	tlsCfg := &tls.Config{
		InsecureSkipVerify: opts.InsecureSkipVerify, //nolint:gosec // user-configured
	}
	return &http.Client{
		Transport: &http.Transport{TLSClientConfig: tlsCfg},
		Timeout:   opts.Timeout,
	}
}

// Token returns the current session token.
func (c *Client) Token() string { return c.token }

func (c *Client) setToken(t string) { c.token = t }

// Authenticate exchanges the configured credentials for a fresh
// session token, replacing any token held so far. The gateway returns
// the token as the raw response body.
func (c *Client) Authenticate(ctx context.Context) error {
	form := url.Values{
		"username": {c.opts.Username},
		"password": {c.opts.Password},
		"token":    {"true"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.opts.BaseURL+"/auth", strings.NewReader(form.Encode()))
	if err != nil {
		return &AuthError{Reason: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return &AuthError{Reason: err.Error()}
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &AuthError{Status: resp.StatusCode, Reason: snippet(body, resp.StatusCode)}
	}
	if readErr != nil {
		return &AuthError{Reason: fmt.Sprintf("read token: %v", readErr)}
	}
	token := strings.TrimSpace(string(body))
	if token == "" {
		return &AuthError{Status: resp.StatusCode, Reason: "empty token in response body"}
	}
	c.setToken(token)
	slog.Info("uploader: session token acquired", "endpoint", c.opts.BaseURL)
	return nil
}

// Upload posts one chunk file to the ingestion endpoint under the
// current session token.
//
// A 200 means the gateway accepted the chunk. A 401 means the token
// expired: the client re-authenticates in place and returns
// ErrAuthExpired, so the caller's next attempt runs under the fresh
// token. Any other status or a transport failure comes back as an
// *UploadError. The chunk file itself is never touched.
func (c *Client) Upload(ctx context.Context, path string) error {
	req, err := c.newUploadRequest(ctx, path)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return &UploadError{Reason: err.Error()}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	case http.StatusUnauthorized:
		_, _ = io.Copy(io.Discard, resp.Body)
		slog.Warn("uploader: session token rejected, re-authenticating",
			"chunk", filepath.Base(path))
		if err := c.Authenticate(ctx); err != nil {
			return fmt.Errorf("uploader: re-authenticate: %w", err)
		}
		return ErrAuthExpired
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &UploadError{Status: resp.StatusCode, Reason: snippet(body, resp.StatusCode)}
	}
}

// newUploadRequest builds the multipart POST for one chunk. The chunk
// is buffered in memory; files are capped near the configured chunk
// ceiling so the buffer stays modest.
func (c *Client) newUploadRequest(ctx context.Context, path string) (*http.Request, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("uploader: open chunk: %w", err)
	}
	defer f.Close()

	name := filepath.Base(path)
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	hdr.Set("Content-Type", "text/csv")
	part, err := mw.CreatePart(hdr)
	if err != nil {
		return nil, fmt.Errorf("uploader: create multipart field: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("uploader: read chunk %s: %w", name, err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("uploader: finish multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.uploadURL(), &body)
	if err != nil {
		return nil, fmt.Errorf("uploader: build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.Token())
	return req, nil
}

func (c *Client) uploadURL() string {
	return c.opts.BaseURL + fmt.Sprintf(uploadPathFormat, c.opts.ConnectionUUID, c.opts.ProfileUUID)
}

// snippet condenses a response body into something fit for a log line,
// falling back to the standard status text for empty bodies.
func snippet(body []byte, status int) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	if s == "" {
		return http.StatusText(status)
	}
	return s
}
