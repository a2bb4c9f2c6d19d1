package transport

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/example/kosync/internal/schema"
)

const (
	// DefaultBaseURL is the public KOReader sync service.
	DefaultBaseURL = "https://sync.koreader.rocks"

	// acceptHeader pins the protocol version.
	acceptHeader = "application/vnd.koreader.v1+json"

	// DefaultTimeout bounds every request issued by the client.
	DefaultTimeout = 12 * time.Second

	// maxBodyBytes caps response bodies; progress records are tiny.
	maxBodyBytes = 1 << 20
)

// PasswordDigest returns the client-side md5 hex digest of a plaintext
// password, as required by the X-Auth-Key header. The digest algorithm
// is fixed by the wire contract.
func PasswordDigest(plain string) string {
	sum := md5.Sum([]byte(plain))
	return hex.EncodeToString(sum[:])
}

// HTTP implements Client against a KOReader-compatible sync server.
type HTTP struct {
	baseURL  string
	username string
	authKey  string
	client   *http.Client
	logger   *log.Logger
}

// NewHTTP creates a transport for the given server and credentials.
// The password is hashed client-side; the plaintext never leaves the
// process. A zero timeout falls back to DefaultTimeout, an empty baseURL
// to DefaultBaseURL, and a nil logger to a stderr default.
func NewHTTP(baseURL, username, password string, timeout time.Duration, logger *log.Logger) *HTTP {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[transport] ", log.LstdFlags)
	}
	return &HTTP{
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: username,
		authKey:  PasswordDigest(password),
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

// setAuthHeaders attaches the protocol's auth headers to a request.
func (h *HTTP) setAuthHeaders(req *http.Request, contentType bool) {
	req.Header.Set("X-Auth-User", h.username)
	req.Header.Set("X-Auth-Key", h.authKey)
	req.Header.Set("Accept", acceptHeader)
	if contentType {
		req.Header.Set("Content-Type", "application/json")
	}
}

// TestAuth implements Client.TestAuth.
func (h *HTTP) TestAuth(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"/users/auth", nil)
	if err != nil {
		h.logger.Printf("ERROR: failed to build auth request: %v", err)
		return false
	}
	h.setAuthHeaders(req, false)

	resp, err := h.client.Do(req)
	if err != nil {
		h.logger.Printf("ERROR: auth request failed: %v", err)
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))

	return resp.StatusCode == http.StatusOK
}

// GetProgress implements Client.GetProgress.
func (h *HTTP) GetProgress(ctx context.Context, documentID string) (*schema.Record, error) {
	url := h.baseURL + "/syncs/progress/" + documentID
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		h.logger.Printf("ERROR: failed to build progress request: %v", err)
		return nil, nil
	}
	h.setAuthHeaders(req, false)

	resp, err := h.client.Do(req)
	if err != nil {
		h.logger.Printf("ERROR: progress fetch failed for %s: %v", documentID, err)
		return nil, nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		h.logger.Printf("ERROR: failed to read progress body for %s: %v", documentID, err)
		return nil, nil
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		return nil, nil
	case http.StatusUnauthorized:
		return nil, ErrAuth
	case http.StatusOK:
		// fall through to decode
	default:
		h.logger.Printf("WARNING: unexpected GET status %d for %s: %s",
			resp.StatusCode, documentID, truncate(body))
		return nil, nil
	}

	rec, err := schema.DecodeRemote(body)
	if err != nil {
		h.logger.Printf("ERROR: bad progress body for %s: %v", documentID, err)
		return nil, nil
	}
	return rec, nil
}

// PutProgress implements Client.PutProgress.
func (h *HTTP) PutProgress(ctx context.Context, rec *schema.Record) error {
	payload, err := rec.Payload()
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, h.baseURL+"/syncs/progress", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build push request: %w", err)
	}
	h.setAuthHeaders(req, true)

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("push request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))

	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusUnauthorized:
		return ErrAuth
	default:
		return fmt.Errorf("push rejected with status %d: %s", resp.StatusCode, truncate(body))
	}
}

// truncate keeps server bodies from flooding the log.
func truncate(body []byte) string {
	const max = 200
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
