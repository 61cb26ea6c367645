package pypi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"
)

const simpleAccept = "application/vnd.pypi.simple.v1+json"

// Release is one published version of a project.
type Release struct {
	Version  string
	Released time.Time
}

// Client talks to an upstream package index. It is read-only; fetch
// failures are surfaced and the caller retries on its next poll.
type Client struct {
	base   *url.URL
	client *http.Client
	logger log.Logger
}

// New creates a Client for the index rooted at base.
func New(base string, options ...Option) (*Client, error) {
	parsed, err := url.Parse(base)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid index url %q", base)
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

// Projects returns every project name the index knows, plus the index
// serial at the time of the response. The serial is a monotonic
// high-water mark; an unchanged serial means nothing new upstream.
func (c *Client) Projects(ctx context.Context) ([]string, int64, error) {
	var payload struct {
		Meta struct {
			Serial int64 `json:"_last-serial"`
		} `json:"meta"`
		Projects []struct {
			Name string `json:"name"`
		} `json:"projects"`
	}
	if err := c.get(ctx, "/simple/", simpleAccept, &payload); err != nil {
		return nil, -1, errors.WithStack(err)
	}

	names := make([]string, 0, len(payload.Projects))
	for _, project := range payload.Projects {
		names = append(names, project.Name)
	}
	return names, payload.Meta.Serial, nil
}

// Releases returns every published version of a project, oldest first.
// The release time of a version is the earliest upload in it.
func (c *Client) Releases(ctx context.Context, name string) ([]Release, error) {
	var payload struct {
		Releases map[string][]struct {
			UploadTime time.Time `json:"upload_time_iso_8601"`
		} `json:"releases"`
	}
	path := fmt.Sprintf("/pypi/%s/json", url.PathEscape(name))
	if err := c.get(ctx, path, "application/json", &payload); err != nil {
		return nil, errors.WithStack(err)
	}

	releases := make([]Release, 0, len(payload.Releases))
	for version, uploads := range payload.Releases {
		release := Release{Version: version}
		for _, upload := range uploads {
			if release.Released.IsZero() || upload.UploadTime.Before(release.Released) {
				release.Released = upload.UploadTime
			}
		}
		if release.Released.IsZero() {
			// Versions with no uploads have nothing to build from.
			continue
		}
		releases = append(releases, release)
	}
	sort.Slice(releases, func(i, j int) bool {
		return releases[i].Released.Before(releases[j].Released)
	})
	return releases, nil
}

func (c *Client) get(ctx context.Context, path, accept string, into interface{}) error {
	ref, err := url.Parse(path)
	if err != nil {
		return errors.WithStack(err)
	}
	request, err := http.NewRequest("GET", c.base.ResolveReference(ref).String(), nil)
	if err != nil {
		return errors.WithStack(err)
	}
	request = request.WithContext(ctx)
	request.Header.Set("Accept", accept)

	response, err := c.client.Do(request)
	if err != nil {
		return errors.Wrapf(err, "failed to fetch %q", path)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return errors.Errorf("unexpected status %q fetching %q", response.Status, path)
	}
	if err := json.NewDecoder(response.Body).Decode(into); err != nil {
		return errors.Wrapf(err, "failed to decode %q response", path)
	}
	return nil
}
