package lumberjack

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/go-logfmt/logfmt"
	"github.com/pkg/errors"

	"github.com/pdtopdog/piwheels/internal/clock"
	"github.com/pdtopdog/piwheels/internal/db"
	"github.com/pdtopdog/piwheels/pkg/master/secretary"
)

// Secretary buffers the download records the lumberjack accepts.
type Secretary interface {
	Send(ctx context.Context, event secretary.Event) error
}

// Lumberjack ingests download records from the HTTP tier: one logfmt
// line per download, posted in batches. Malformed lines are logged and
// dropped; the rest of the batch still lands.
type Lumberjack struct {
	secretary Secretary
	clock     clock.Clock
	logger    log.Logger
}

// New creates a Lumberjack over the given secretary.
func New(sec Secretary, options ...Option) *Lumberjack {
	opts := newOptions()
	for _, option := range options {
		option(opts)
	}

	return &Lumberjack{
		secretary: sec,
		clock:     opts.clock,
		logger:    opts.logger,
	}
}

// ServeHTTP accepts a batch of line-delimited logfmt download records.
func (l *Lumberjack) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	defer r.Body.Close()

	var accepted, dropped int
	scanner := bufio.NewScanner(r.Body)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		download, err := l.parse(line)
		if err != nil {
			dropped++
			level.Warn(l.logger).Log("msg", "dropped malformed download record", "err", err)
			continue
		}
		if err := l.secretary.Send(r.Context(), secretary.DownloadEvent{Download: download}); err != nil {
			http.Error(w, "shutting down", http.StatusServiceUnavailable)
			return
		}
		accepted++
	}
	if err := scanner.Err(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"accepted": %d, "dropped": %d}`+"\n", accepted, dropped)
}

// parse decodes one logfmt record into a download row. Only filename
// and host are required; everything else is best-effort client
// environment detail.
func (l *Lumberjack) parse(line []byte) (db.Download, error) {
	download := db.Download{
		AccessedAt: l.clock.UTC(),
	}

	decoder := logfmt.NewDecoder(bytes.NewReader(line))
	for decoder.ScanRecord() {
		for decoder.ScanKeyval() {
			key, value := string(decoder.Key()), string(decoder.Value())
			switch key {
			case "filename":
				download.Filename = value
			case "host":
				download.AccessedBy = value
			case "timestamp":
				parsed, err := time.Parse(time.RFC3339, value)
				if err != nil {
					return db.Download{}, errors.Wrapf(err, "invalid timestamp %q", value)
				}
				download.AccessedAt = parsed
			case "arch":
				download.Arch = value
			case "distro_name":
				download.DistroName = value
			case "distro_version":
				download.DistroVersion = value
			case "os_name":
				download.OSName = value
			case "os_version":
				download.OSVersion = value
			case "py_name":
				download.PyName = value
			case "py_version":
				download.PyVersion = value
			}
		}
	}
	if err := decoder.Err(); err != nil {
		return db.Download{}, errors.WithStack(err)
	}

	if download.Filename == "" {
		return db.Download{}, errors.New("record has no filename")
	}
	if download.AccessedBy == "" {
		return db.Download{}, errors.New("record has no host")
	}
	return download, nil
}
