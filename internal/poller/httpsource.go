package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ThreadKind selects the ledger an HTTPSource polls.
type ThreadKind string

const (
	Negotiations ThreadKind = "negotiations"
	Orders       ThreadKind = "orders"
)

// HTTPSource polls a thread through the public HTTP API. It remembers the
// last ETag so unchanged ledgers cost a 304.
type HTTPSource struct {
	BaseURL  string // e.g. "http://localhost:8080/api/v1"
	Kind     ThreadKind
	ThreadID string

	// Name is the customer's claimed name; StaffKey/StaffName identify
	// staff instead.
	Name      string
	StaffKey  string
	StaffName string

	Client *http.Client

	etag string
}

// StatusError is returned for non-2xx responses other than 304.
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("poll: http %d", e.StatusCode)
	}
	return fmt.Sprintf("poll: http %d %s: %s", e.StatusCode, e.Code, e.Message)
}

type listResponse struct {
	Messages []Message `json:"messages"`
	Status   string    `json:"status"`
	Locked   bool      `json:"locked"`
	Degraded bool      `json:"degraded"`
}

type typingResponse struct {
	Typing []TypingMarker `json:"typing"`
}

// Fetch implements Source.
func (s *HTTPSource) Fetch(ctx context.Context) (Snapshot, error) {
	req, err := s.newRequest(ctx, "messages")
	if err != nil {
		return Snapshot{}, err
	}
	if s.etag != "" {
		req.Header.Set("If-None-Match", s.etag)
	}

	resp, err := s.client().Do(req)
	if err != nil {
		return Snapshot{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		_, _ = io.Copy(io.Discard, resp.Body)
		return Snapshot{NotModified: true}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return Snapshot{}, statusError(resp)
	}

	var body listResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Snapshot{}, fmt.Errorf("poll: decode: %w", err)
	}
	degraded := body.Degraded || resp.Header.Get("X-Degraded") == "true"
	if !degraded {
		s.etag = resp.Header.Get("ETag")
	}
	return Snapshot{
		Messages: body.Messages,
		Status:   body.Status,
		Locked:   body.Locked,
		Degraded: degraded,
	}, nil
}

// Typing implements TypingSource.
func (s *HTTPSource) Typing(ctx context.Context) ([]TypingMarker, error) {
	req, err := s.newRequest(ctx, "typing")
	if err != nil {
		return nil, err
	}
	resp, err := s.client().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}
	var body typingResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("poll: decode typing: %w", err)
	}
	return body.Typing, nil
}

func (s *HTTPSource) newRequest(ctx context.Context, leaf string) (*http.Request, error) {
	u, err := url.Parse(strings.TrimRight(s.BaseURL, "/") + "/" + string(s.Kind) + "/" + url.PathEscape(s.ThreadID) + "/" + leaf)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if s.StaffKey != "" {
		req.Header.Set("X-Staff-Key", s.StaffKey)
		if s.StaffName != "" {
			req.Header.Set("X-Staff-Name", s.StaffName)
		}
	} else if s.Name != "" {
		req.Header.Set("X-Customer-Name", s.Name)
	}
	return req, nil
}

func (s *HTTPSource) client() *http.Client {
	if s.Client != nil {
		return s.Client
	}
	return &http.Client{Timeout: 10 * time.Second}
}

func statusError(resp *http.Response) error {
	se := &StatusError{StatusCode: resp.StatusCode}
	var body struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err == nil {
		se.Code, se.Message = body.Code, body.Message
	}
	return se
}
