package uploader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAuthenticate_ExchangesCredentialsForRawToken(t *testing.T) {
	var gotForm url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/auth" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/x-www-form-urlencoded" {
			t.Errorf("content type = %q", ct)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		gotForm = r.PostForm
		io.WriteString(w, "tok-12345\n")
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL + "/", Username: "alice", Password: "s3cret"})
	if err := c.Authenticate(context.Background()); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if got := c.Token(); got != "tok-12345" {
		t.Errorf("Token() = %q, want tok-12345", got)
	}
	for k, want := range map[string]string{"username": "alice", "password": "s3cret", "token": "true"} {
		if got := gotForm.Get(k); got != want {
			t.Errorf("form field %s = %q, want %q", k, got, want)
		}
	}
}

func TestAuthenticate_RejectedCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad credentials", http.StatusForbidden)
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL, Username: "alice", Password: "wrong"})
	err := c.Authenticate(context.Background())

	var ae *AuthError
	if !errors.As(err, &ae) {
		t.Fatalf("Authenticate error = %T %v, want *AuthError", err, err)
	}
	if ae.Status != http.StatusForbidden {
		t.Errorf("Status = %d, want 403", ae.Status)
	}
	if !strings.Contains(ae.Reason, "bad credentials") {
		t.Errorf("Reason = %q", ae.Reason)
	}
	if c.Token() != "" {
		t.Errorf("Token() = %q after failed auth, want empty", c.Token())
	}
}

func TestAuthenticate_EmptyTokenBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL})
	if err := c.Authenticate(context.Background()); err == nil {
		t.Fatal("expected error for empty token body, got nil")
	}
}

func TestAuthenticate_EndpointUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := New(Options{BaseURL: srv.URL})
	err := c.Authenticate(context.Background())

	var ae *AuthError
	if !errors.As(err, &ae) {
		t.Fatalf("Authenticate error = %T %v, want *AuthError", err, err)
	}
	if ae.Status != 0 {
		t.Errorf("Status = %d, want 0 for transport failure", ae.Status)
	}
}

func TestUpload_PostsMultipartChunk(t *testing.T) {
	const wantPath = "/connector-config/connector/integration/conn-1/prof-1/file-upload"
	chunk := writeChunkFile(t, "assets_1.csv", "id,val\nr01,aaa\n")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth" {
			io.WriteString(w, "tok-1")
			return
		}
		if r.Method != http.MethodPost || r.URL.Path != wantPath {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			t.Errorf("authorization = %q, want Bearer tok-1", got)
		}
		file, fh, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form field file: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()
		if fh.Filename != "assets_1.csv" {
			t.Errorf("filename = %q, want assets_1.csv", fh.Filename)
		}
		if ct := fh.Header.Get("Content-Type"); ct != "text/csv" {
			t.Errorf("part content type = %q, want text/csv", ct)
		}
		body, _ := io.ReadAll(file)
		if string(body) != "id,val\nr01,aaa\n" {
			t.Errorf("uploaded content = %q", body)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL, ConnectionUUID: "conn-1", ProfileUUID: "prof-1"})
	ctx := context.Background()
	if err := c.Authenticate(ctx); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if err := c.Upload(ctx, chunk); err != nil {
		t.Fatalf("Upload: %v", err)
	}
}

func TestUpload_TokenExpiryRefreshesExactlyOnce(t *testing.T) {
	chunk := writeChunkFile(t, "assets_1.csv", "id,val\nr01,aaa\n")

	var authCalls, uploadCalls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth" {
			authCalls++
			fmt.Fprintf(w, "tok-%d", authCalls)
			return
		}
		uploadCalls++
		if uploadCalls == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok-2" {
			t.Errorf("retried attempt authorization = %q, want Bearer tok-2", got)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL, ConnectionUUID: "c", ProfileUUID: "p"})
	ctx := context.Background()
	if err := c.Authenticate(ctx); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	err := c.Upload(ctx, chunk)
	if !errors.Is(err, ErrAuthExpired) {
		t.Fatalf("first Upload error = %v, want ErrAuthExpired", err)
	}
	if authCalls != 2 {
		t.Errorf("auth calls after 401 = %d, want 2", authCalls)
	}
	if c.Token() != "tok-2" {
		t.Errorf("Token() = %q, want tok-2", c.Token())
	}

	if err := c.Upload(ctx, chunk); err != nil {
		t.Fatalf("second Upload: %v", err)
	}
	if uploadCalls != 2 {
		t.Errorf("upload calls = %d, want 2", uploadCalls)
	}
}

func TestUpload_ServerErrorIsRetryable(t *testing.T) {
	chunk := writeChunkFile(t, "assets_1.csv", "id,val\n")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth" {
			io.WriteString(w, "tok-1")
			return
		}
		http.Error(w, "ingestion queue full", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL, ConnectionUUID: "c", ProfileUUID: "p"})
	ctx := context.Background()
	if err := c.Authenticate(ctx); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	err := c.Upload(ctx, chunk)
	var ue *UploadError
	if !errors.As(err, &ue) {
		t.Fatalf("Upload error = %T %v, want *UploadError", err, err)
	}
	if ue.Status != http.StatusInternalServerError {
		t.Errorf("Status = %d, want 500", ue.Status)
	}
	if !strings.Contains(ue.Reason, "ingestion queue full") {
		t.Errorf("Reason = %q", ue.Reason)
	}
}

func TestUpload_TransportFailureIsRetryable(t *testing.T) {
	chunk := writeChunkFile(t, "assets_1.csv", "id,val\n")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := New(Options{BaseURL: srv.URL, ConnectionUUID: "c", ProfileUUID: "p"})
	err := c.Upload(context.Background(), chunk)

	var ue *UploadError
	if !errors.As(err, &ue) {
		t.Fatalf("Upload error = %T %v, want *UploadError", err, err)
	}
	if ue.Status != 0 {
		t.Errorf("Status = %d, want 0 for transport failure", ue.Status)
	}
}

func TestUpload_ReauthFailureSurfacesAuthError(t *testing.T) {
	chunk := writeChunkFile(t, "assets_1.csv", "id,val\n")

	var authCalls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth" {
			authCalls++
			if authCalls == 1 {
				io.WriteString(w, "tok-1")
				return
			}
			http.Error(w, "auth backend down", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL, ConnectionUUID: "c", ProfileUUID: "p"})
	ctx := context.Background()
	if err := c.Authenticate(ctx); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	err := c.Upload(ctx, chunk)
	if errors.Is(err, ErrAuthExpired) {
		t.Fatal("Upload reported ErrAuthExpired although re-auth failed")
	}
	var ae *AuthError
	if !errors.As(err, &ae) {
		t.Fatalf("Upload error = %v, want wrapped *AuthError", err)
	}
	if ae.Status != http.StatusServiceUnavailable {
		t.Errorf("Status = %d, want 503", ae.Status)
	}
}

func TestUpload_MissingChunkFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for a missing chunk file")
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL, ConnectionUUID: "c", ProfileUUID: "p"})
	err := c.Upload(context.Background(), filepath.Join(t.TempDir(), "gone.csv"))
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	var ue *UploadError
	if errors.As(err, &ue) {
		t.Errorf("missing file classified as *UploadError: %v", err)
	}
}

func TestInsecureSkipVerify_AllowsSelfSignedGateway(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "tok-tls")
	}))
	defer srv.Close()

	strict := New(Options{BaseURL: srv.URL})
	if err := strict.Authenticate(context.Background()); err == nil {
		t.Fatal("expected TLS verification failure with default options")
	}

	lax := New(Options{BaseURL: srv.URL, InsecureSkipVerify: true})
	if err := lax.Authenticate(context.Background()); err != nil {
		t.Fatalf("Authenticate with InsecureSkipVerify: %v", err)
	}
	if lax.Token() != "tok-tls" {
		t.Errorf("Token() = %q, want tok-tls", lax.Token())
	}
}

func writeChunkFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write chunk fixture: %v", err)
	}
	return path
}
