// Package client talks to a takedat server: the session directory over HTTP
// and the relay over websockets.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ssd-technologies/takedat/internal/protocol"
)

// APIError is an error response from the directory. Message is shown to the
// user as is.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}

// Directory is an HTTP client for the session directory.
type Directory struct {
	base string
	http *http.Client
}

// NewDirectory creates a Directory for the server at baseURL. A nil hc uses a
// client with a 30 second timeout.
func NewDirectory(baseURL string, hc *http.Client) *Directory {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Directory{base: strings.TrimRight(baseURL, "/"), http: hc}
}

// CreateSession registers a file offer and returns its share code.
func (d *Directory) CreateSession(ctx context.Context, req protocol.CreateSessionRequest) (*protocol.CreateSessionResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	var resp protocol.CreateSessionResponse
	if err := d.do(ctx, http.MethodPost, "/api/sessions", body, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetSession looks up the file behind a share code.
func (d *Directory) GetSession(ctx context.Context, code string) (*protocol.SessionInfo, error) {
	var info protocol.SessionInfo
	if err := d.do(ctx, http.MethodGet, "/api/sessions/"+url.PathEscape(code), nil, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// DeleteSession withdraws an offer. ownerToken is the token returned by
// CreateSession.
func (d *Directory) DeleteSession(ctx context.Context, code, ownerToken string) error {
	header := http.Header{}
	header.Set("X-Owner-Token", ownerToken)
	return d.do(ctx, http.MethodDelete, "/api/sessions/"+url.PathEscape(code), nil, header, nil)
}

func (d *Directory) do(ctx context.Context, method, path string, body []byte, header http.Header, out any) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, d.base+path, rd)
	if err != nil {
		return err
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var body protocol.APIError
	if err := json.Unmarshal(raw, &body); err != nil || body.Message == "" {
		return &APIError{
			Status:  resp.StatusCode,
			Code:    "HTTP_ERROR",
			Message: fmt.Sprintf("Server returned %s", resp.Status),
		}
	}
	return &APIError{Status: resp.StatusCode, Code: body.Code, Message: body.Message}
}
