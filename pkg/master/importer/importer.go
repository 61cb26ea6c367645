package importer

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"

	"github.com/pdtopdog/piwheels/internal/clock"
	"github.com/pdtopdog/piwheels/internal/db"
	"github.com/pdtopdog/piwheels/internal/protocol"
)

// Installer verifies and installs one wheel into the served area. The
// juggler implements it.
type Installer interface {
	Install(r io.Reader, info protocol.FileInfo, pkg string) error
}

// Recorder persists the imported build. The secretary implements it.
type Recorder interface {
	RecordBuild(build db.Build, files []db.File, deps []db.Dependency) error
}

// Metadata describes one externally produced wheel being imported.
type Metadata struct {
	Package  string            `json:"package"`
	Version  string            `json:"version"`
	ABITag   string            `json:"abi_tag"`
	BuiltBy  string            `json:"built_by"`
	Duration time.Duration     `json:"duration"`
	Output   string            `json:"output"`
	File     protocol.FileInfo `json:"file"`
}

// Importer accepts externally produced wheels: the file goes through
// the same verify-and-install path as a slave upload, and the build is
// recorded with its importer as the builder.
type Importer struct {
	installer Installer
	recorder  Recorder
	clock     clock.Clock
	logger    log.Logger
}

// New creates an Importer over the given collaborators.
func New(installer Installer, recorder Recorder, options ...Option) *Importer {
	opts := newOptions()
	for _, option := range options {
		option(opts)
	}

	return &Importer{
		installer: installer,
		recorder:  recorder,
		clock:     opts.clock,
		logger:    opts.logger,
	}
}

// ServeHTTP accepts one multipart import: a metadata part and a file
// part.
func (i *Importer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	metadata, file, err := parseRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	defer file.Close()

	if err := i.installer.Install(file, metadata.File, metadata.Package); err != nil {
		level.Warn(i.logger).Log("msg", "import failed verification", "filename", metadata.File.Filename, "err", err)
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}

	builtBy := metadata.BuiltBy
	if builtBy == "" {
		builtBy = "import"
	}
	build := db.Build{
		Package:  metadata.Package,
		Version:  metadata.Version,
		ABITag:   metadata.ABITag,
		BuiltBy:  builtBy,
		Duration: metadata.Duration,
		Status:   true,
		BuiltAt:  i.clock.UTC(),
		Output:   metadata.Output,
	}
	files := []db.File{{
		Filename:          metadata.File.Filename,
		Filesize:          metadata.File.Filesize,
		Filehash:          metadata.File.Filehash,
		PackageTag:        metadata.File.PackageTag,
		PackageVersionTag: metadata.File.PackageVersionTag,
		PyVersionTag:      metadata.File.PyVersionTag,
		ABITag:            metadata.File.ABITag,
		PlatformTag:       metadata.File.PlatformTag,
	}}
	var deps []db.Dependency
	for _, dep := range metadata.File.Dependencies {
		deps = append(deps, db.Dependency{
			Filename:   metadata.File.Filename,
			Tool:       dep.Tool,
			Dependency: dep.Name,
		})
	}

	if err := i.recorder.RecordBuild(build, files, deps); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	level.Info(i.logger).Log("msg", "imported wheel", "package", metadata.Package, "version", metadata.Version, "filename", metadata.File.Filename)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":   "ok",
		"filename": metadata.File.Filename,
	})
}

func parseRequest(r *http.Request) (Metadata, io.ReadCloser, error) {
	reader, err := r.MultipartReader()
	if err != nil {
		return Metadata{}, nil, errors.Wrap(err, "expected a multipart body")
	}

	var metadata *Metadata
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Metadata{}, nil, errors.WithStack(err)
		}

		switch part.FormName() {
		case "metadata":
			var parsed Metadata
			if err := json.NewDecoder(part).Decode(&parsed); err != nil {
				return Metadata{}, nil, errors.Wrap(err, "malformed metadata")
			}
			if parsed.Package == "" || parsed.Version == "" || parsed.File.Filename == "" {
				return Metadata{}, nil, errors.New("metadata must name package, version and file")
			}
			metadata = &parsed
		case "file":
			if metadata == nil {
				return Metadata{}, nil, errors.New("metadata part must precede the file part")
			}
			return *metadata, part, nil
		}
	}
	return Metadata{}, nil, errors.New("missing file part")
}

func writeError(w http.ResponseWriter, code int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]interface{}{"error": err.Error()})
}
