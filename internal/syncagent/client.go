package syncagent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/napper/internal/engine"
	"github.com/roach88/napper/internal/fanout"
	"github.com/roach88/napper/internal/ir"
	"github.com/roach88/napper/internal/snapshot"
	"github.com/roach88/napper/internal/transport/middleware"
	"github.com/roach88/napper/internal/transport/rest"
)

// ErrOffline means the server could not be reached or could not take the
// write right now. Queued events stay queued.
var ErrOffline = errors.New("server unavailable")

// RejectedError is a batch the server refused for good (4xx other than
// 429). Retrying the same batch fails the same way.
type RejectedError struct {
	Status int
	Detail rest.ErrorDetail

	// LocalSeq is the queued row the server pointed at, or 0.
	LocalSeq int64
}

func (e *RejectedError) Error() string {
	msg := fmt.Sprintf("rejected (%d %s): %s", e.Status, e.Detail.Code, e.Detail.Message)
	if e.LocalSeq > 0 {
		msg += fmt.Sprintf(" [local seq %d]", e.LocalSeq)
	}
	return msg
}

// IsOffline reports whether err means the write should be retried later.
func IsOffline(err error) bool {
	return errors.Is(err, ErrOffline)
}

// IsRejected reports whether err is a permanent rejection.
func IsRejected(err error) bool {
	var re *RejectedError
	return errors.As(err, &re)
}

// Client talks to the napper HTTP API.
type Client struct {
	base   *url.URL
	http   *http.Client
	stream *http.Client
}

// NewClient creates a Client for serverURL. timeout bounds each request
// except the push channel, which stays open.
func NewClient(serverURL string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(serverURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	return &Client{
		base:   u,
		http:   &http.Client{Timeout: timeout},
		stream: &http.Client{},
	}, nil
}

func (c *Client) endpoint(path string, q url.Values) string {
	u := *c.base
	u.Path = c.base.Path + path
	u.RawQuery = q.Encode()
	return u.String()
}

// PostEvents submits one atomic batch.
func (c *Client) PostEvents(ctx context.Context, origin string, events []ir.NewEvent) (engine.Result, error) {
	body, err := json.Marshal(struct {
		Events []ir.NewEvent `json:"events"`
	}{events})
	if err != nil {
		return engine.Result{}, fmt.Errorf("encode batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/api/events", nil), bytes.NewReader(body))
	if err != nil {
		return engine.Result{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if origin != "" {
		req.Header.Set(middleware.ClientIDHeader, origin)
	}

	var res engine.Result
	if err := c.do(req, &res); err != nil {
		return engine.Result{}, err
	}
	return res, nil
}

// State fetches the current snapshot and its seq.
func (c *Client) State(ctx context.Context) (snapshot.Snapshot, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/api/state", nil), nil)
	if err != nil {
		return snapshot.Snapshot{}, 0, fmt.Errorf("build request: %w", err)
	}

	var snap snapshot.Snapshot
	resp, err := c.send(c.http, req)
	if err != nil {
		return snapshot.Snapshot{}, 0, err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return snapshot.Snapshot{}, 0, fmt.Errorf("%w: decode state: %v", ErrOffline, err)
	}
	seq, _ := strconv.ParseInt(resp.Header.Get("X-Seq"), 10, 64)
	return snap, seq, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.send(c.http, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrOffline, err)
	}
	return nil
}

// send performs req and classifies failures: transport errors, 429 and 5xx
// are ErrOffline, other non-2xx are *RejectedError.
func (c *Client) send(hc *http.Client, req *http.Request) (*http.Response, error) {
	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOffline, err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: %s %s: %s", ErrOffline, req.Method, req.URL.Path, resp.Status)
	}

	var body rest.ErrorBody
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(data, &body); err != nil || body.Error.Code == "" {
		body.Error = rest.ErrorDetail{Code: "HTTP", Message: strings.TrimSpace(string(data))}
	}
	return nil, &RejectedError{Status: resp.StatusCode, Detail: body.Error}
}

// Stream is an open push channel.
type Stream struct {
	body io.ReadCloser
	r    *bufio.Reader
}

// OpenStream connects to /api/stream as clientID.
func (c *Client) OpenStream(ctx context.Context, clientID string) (*Stream, error) {
	q := url.Values{}
	if clientID != "" {
		q.Set("clientId", clientID)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/api/stream", q), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.send(c.stream, req)
	if err != nil {
		return nil, err
	}
	return &Stream{body: resp.Body, r: bufio.NewReader(resp.Body)}, nil
}

// Next blocks for the next state message. Comment lines and other event
// names are skipped. io.EOF means the server closed the stream.
func (s *Stream) Next() (fanout.Message, error) {
	var event string
	var data strings.Builder
	for {
		line, err := s.r.ReadString('\n')
		if err != nil {
			return fanout.Message{}, err
		}
		line = strings.TrimRight(line, "\r\n")

		switch {
		case line == "":
			if data.Len() > 0 && (event == "" || event == rest.StreamEvent) {
				var m fanout.Message
				if err := json.Unmarshal([]byte(data.String()), &m); err != nil {
					return fanout.Message{}, fmt.Errorf("decode message: %w", err)
				}
				return m, nil
			}
			event = ""
			data.Reset()
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
}

// Close ends the stream.
func (s *Stream) Close() error {
	return s.body.Close()
}
