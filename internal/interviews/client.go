// Package interviews is the REST collaborator for interview lookups and
// status updates.
package interviews

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hireme/interview-call/internal/auth"
	"github.com/rs/zerolog/log"
)

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

var ErrEmptyID = errors.New("interview id is empty")

type Participant struct {
	ID   string `json:"_id"`
	Name string `json:"name"`
}

type Interview struct {
	ID          string      `json:"_id"`
	JobTitle    string      `json:"jobTitle"`
	Candidate   Participant `json:"candidate"`
	Recruiter   Participant `json:"recruiter"`
	ScheduledAt time.Time   `json:"scheduledAt"`
	Status      Status      `json:"status"`
}

// APIError is returned for any non-2xx response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("interviews api: status %d", e.Status)
	}
	return fmt.Sprintf("interviews api: status %d: %s", e.Status, e.Message)
}

// SessionSource yields the current session; *auth.Store satisfies it.
type SessionSource interface {
	Current() (auth.Session, bool)
}

type Client struct {
	BaseURL  string
	HTTP     *http.Client
	sessions SessionSource
}

func NewClient(baseURL string, sessions SessionSource) *Client {
	return &Client{
		BaseURL:  strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		HTTP:     &http.Client{Timeout: 10 * time.Second},
		sessions: sessions,
	}
}

func (c *Client) Get(ctx context.Context, id string) (*Interview, error) {
	if id == "" {
		return nil, ErrEmptyID
	}
	var iv Interview
	if err := c.do(ctx, http.MethodGet, "/interviews/"+url.PathEscape(id), nil, &iv); err != nil {
		return nil, err
	}
	return &iv, nil
}

func (c *Client) UpdateStatus(ctx context.Context, id string, status Status) error {
	if id == "" {
		return ErrEmptyID
	}
	body := struct {
		Status Status `json:"status"`
	}{status}
	if err := c.do(ctx, http.MethodPut, "/interviews/"+url.PathEscape(id)+"/status", body, nil); err != nil {
		return err
	}
	log.Info().Str("module", "interviews").Str("interview", id).Str("status", string(status)).Msg("status updated")
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	sess, ok := c.sessions.Current()
	if !ok {
		return auth.ErrNoSession
	}
	authz, err := sess.Authorization()
	if err != nil {
		return err
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", authz)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode/100 != 2 {
		var msg struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&msg)
		return &APIError{Status: resp.StatusCode, Message: msg.Message}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
