package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/pdtopdog/piwheels/internal/db"
)

// Client talks to a master's control surface over HTTP, and to its
// status feed over a websocket.
type Client struct {
	base   *url.URL
	client *http.Client
	logger log.Logger
}

// New creates a Client for the master at base (an http:// or https://
// address).
func New(base string, options ...Option) (*Client, error) {
	parsed, err := url.Parse(base)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid master address %q", base)
	}

	opts := newOptions()
	for _, option := range options {
		option(opts)
	}

	return &Client{
		base:   parsed,
		client: opts.client,
		logger: opts.logger,
	}, nil
}

// Status is the master's synchronous state summary.
type Status struct {
	Paused     bool          `json:"paused"`
	Statistics db.Statistics `json:"statistics"`
	Slaves     int           `json:"slaves"`
}

// SlaveView is one registered slave as reported by the master.
type SlaveView struct {
	ID       string    `json:"id"`
	Label    string    `json:"label"`
	ABITag   string    `json:"abi_tag"`
	State    string    `json:"state"`
	LastSeen time.Time `json:"last_seen"`
	Package  string    `json:"package,omitempty"`
	Version  string    `json:"version,omitempty"`
}

// Status fetches the master's state summary.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var status Status
	err := c.do(ctx, http.MethodGet, "/control/status", nil, &status)
	return status, errors.WithStack(err)
}

// Slaves lists the registered slaves.
func (c *Client) Slaves(ctx context.Context) ([]SlaveView, error) {
	var slaves []SlaveView
	err := c.do(ctx, http.MethodGet, "/control/slaves", nil, &slaves)
	return slaves, errors.WithStack(err)
}

// Pause stops dispatch.
func (c *Client) Pause(ctx context.Context) error {
	return errors.WithStack(c.do(ctx, http.MethodPost, "/control/pause", nil, nil))
}

// Resume restores dispatch.
func (c *Client) Resume(ctx context.Context) error {
	return errors.WithStack(c.do(ctx, http.MethodPost, "/control/resume", nil, nil))
}

// KillSlave marks a slave for termination.
func (c *Client) KillSlave(ctx context.Context, slaveID string) error {
	path := fmt.Sprintf("/control/slaves/%s/kill", url.PathEscape(slaveID))
	return errors.WithStack(c.do(ctx, http.MethodPost, path, nil, nil))
}

// AddPackage registers a package.
func (c *Client) AddPackage(ctx context.Context, name string) error {
	return errors.WithStack(c.do(ctx, http.MethodPost, "/control/packages", map[string]string{
		"name": name,
	}, nil))
}

// AddVersion registers a version of a package.
func (c *Client) AddVersion(ctx context.Context, name, version string) error {
	path := fmt.Sprintf("/control/packages/%s/versions", url.PathEscape(name))
	return errors.WithStack(c.do(ctx, http.MethodPost, path, map[string]string{
		"version": version,
	}, nil))
}

// SkipPackage sets or clears a package's skip reason.
func (c *Client) SkipPackage(ctx context.Context, name, reason string) error {
	path := fmt.Sprintf("/control/packages/%s/skip", url.PathEscape(name))
	return errors.WithStack(c.do(ctx, http.MethodPost, path, map[string]string{
		"reason": reason,
	}, nil))
}

// SkipVersion sets or clears a version's skip reason.
func (c *Client) SkipVersion(ctx context.Context, name, version, reason string) error {
	path := fmt.Sprintf("/control/packages/%s/versions/%s/skip",
		url.PathEscape(name), url.PathEscape(version))
	return errors.WithStack(c.do(ctx, http.MethodPost, path, map[string]string{
		"reason": reason,
	}, nil))
}

// Rebuild removes every recorded build of a version so it re-enters
// the pending queue.
func (c *Client) Rebuild(ctx context.Context, name, version string) error {
	path := fmt.Sprintf("/control/packages/%s/versions/%s/rebuild",
		url.PathEscape(name), url.PathEscape(version))
	return errors.WithStack(c.do(ctx, http.MethodPost, path, nil, nil))
}

// DeleteBuild removes one build, its files and their pages.
func (c *Client) DeleteBuild(ctx context.Context, buildID int64) error {
	path := fmt.Sprintf("/control/builds/%d", buildID)
	return errors.WithStack(c.do(ctx, http.MethodDelete, path, nil, nil))
}

// Import uploads an externally produced wheel.
func (c *Client) Import(ctx context.Context, metadata interface{}, file io.Reader, filename string) error {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	meta, err := writer.CreateFormField("metadata")
	if err != nil {
		return errors.WithStack(err)
	}
	if err := json.NewEncoder(meta).Encode(metadata); err != nil {
		return errors.WithStack(err)
	}
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return errors.WithStack(err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return errors.WithStack(err)
	}
	if err := writer.Close(); err != nil {
		return errors.WithStack(err)
	}

	ref, err := url.Parse("/import")
	if err != nil {
		return errors.WithStack(err)
	}
	request, err := http.NewRequest(http.MethodPost, c.base.ResolveReference(ref).String(), &buf)
	if err != nil {
		return errors.WithStack(err)
	}
	request = request.WithContext(ctx)
	request.Header.Set("Content-Type", writer.FormDataContentType())

	response, err := c.client.Do(request)
	if err != nil {
		return errors.WithStack(err)
	}
	defer response.Body.Close()
	return checkResponse(response)
}

// Event is one status feed message.
type Event struct {
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload"`
}

// Events attaches to the status feed and delivers events on the
// returned channel until the context is cancelled.
func (c *Client) Events(ctx context.Context, types []string) (<-chan Event, error) {
	wsURL := *c.base
	switch wsURL.Scheme {
	case "http":
		wsURL.Scheme = "ws"
	case "https":
		wsURL.Scheme = "wss"
	}
	wsURL.Path = "/events"
	if len(types) > 0 {
		wsURL.RawQuery = "types=" + strings.Join(types, ",")
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL.String(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to attach to the status feed")
	}

	events := make(chan Event)
	go func() {
		defer close(events)
		defer conn.Close()
		for {
			_, frame, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var event Event
			if err := json.Unmarshal(frame, &event); err != nil {
				continue
			}
			select {
			case events <- event:
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	return events, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, into interface{}) error {
	ref, err := url.Parse(path)
	if err != nil {
		return errors.WithStack(err)
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return errors.WithStack(err)
		}
		reader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequest(method, c.base.ResolveReference(ref).String(), reader)
	if err != nil {
		return errors.WithStack(err)
	}
	request = request.WithContext(ctx)
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	response, err := c.client.Do(request)
	if err != nil {
		return errors.WithStack(err)
	}
	defer response.Body.Close()

	if err := checkResponse(response); err != nil {
		return errors.WithStack(err)
	}
	if into != nil {
		if err := json.NewDecoder(response.Body).Decode(into); err != nil {
			return errors.Wrap(err, "failed to decode response")
		}
	}
	return nil
}

func checkResponse(response *http.Response) error {
	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return nil
	}
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(response.Body).Decode(&payload); err == nil && payload.Error != "" {
		return errors.Errorf("master replied %s: %s", response.Status, payload.Error)
	}
	return errors.Errorf("master replied %s", response.Status)
}
