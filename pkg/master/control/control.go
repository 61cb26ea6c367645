package control

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/gorilla/mux"

	"github.com/pdtopdog/piwheels/internal/db"
	"github.com/pdtopdog/piwheels/pkg/master/registry"
)

// Oracle is the database surface administrative commands run against.
// It is satisfied by the broker client. Control talks to the broker
// directly because its responses are synchronous to the caller.
type Oracle interface {
	AddNewPackage(ctx context.Context, name string) (bool, error)
	AddNewPackageVersion(ctx context.Context, name, version string, released time.Time) (bool, error)
	SkipPackage(ctx context.Context, name, reason string) error
	SkipPackageVersion(ctx context.Context, name, version, reason string) error
	GetBuild(ctx context.Context, buildID int64) (db.Build, []db.File, error)
	DeleteBuild(ctx context.Context, buildID int64) ([]string, error)
	GetVersionBuilds(ctx context.Context, name, version string) ([]int64, error)
	GetStatistics(ctx context.Context) (db.Statistics, error)
}

// Driver is the dispatch surface commands forward to.
type Driver interface {
	Pause()
	Resume()
	Paused() bool
	Kill(slaveID string) bool
	Abort(pkg, version string)
}

// Juggler removes installed wheels when their build is deleted.
type Juggler interface {
	RemoveFiles(pkg string, filenames []string)
}

// Indexer is notified after a mutation so the affected pages get
// rewritten.
type Indexer interface {
	BuildLogged(pkg string)
	BuildDeleted(pkg string)
}

// Slaves is the registry view exposed to monitors.
type Slaves interface {
	Slaves() []registry.Slave
}

// Control is the administrative RPC endpoint: it accepts commands from
// the monitor CLI and forwards them as typed calls to the responsible
// actor. Responses are synchronous to the caller only.
type Control struct {
	oracle  Oracle
	driver  Driver
	juggler Juggler
	indexer Indexer
	slaves  Slaves
	logger  log.Logger
}

// New creates a Control over the given collaborators.
func New(oracle Oracle, driver Driver, juggler Juggler, indexer Indexer, slaves Slaves, options ...Option) *Control {
	opts := newOptions()
	for _, option := range options {
		option(opts)
	}

	return &Control{
		oracle:  oracle,
		driver:  driver,
		juggler: juggler,
		indexer: indexer,
		slaves:  slaves,
		logger:  opts.logger,
	}
}

// Router returns the control API routes.
func (c *Control) Router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/status", c.handleStatus).Methods(http.MethodGet)
	router.HandleFunc("/pause", c.handlePause).Methods(http.MethodPost)
	router.HandleFunc("/resume", c.handleResume).Methods(http.MethodPost)
	router.HandleFunc("/slaves", c.handleSlaves).Methods(http.MethodGet)
	router.HandleFunc("/slaves/{id}/kill", c.handleKill).Methods(http.MethodPost)
	router.HandleFunc("/packages", c.handleAddPackage).Methods(http.MethodPost)
	router.HandleFunc("/packages/{package}/skip", c.handleSkipPackage).Methods(http.MethodPost)
	router.HandleFunc("/packages/{package}/versions", c.handleAddVersion).Methods(http.MethodPost)
	router.HandleFunc("/packages/{package}/versions/{version}/skip", c.handleSkipVersion).Methods(http.MethodPost)
	router.HandleFunc("/packages/{package}/versions/{version}/rebuild", c.handleRebuild).Methods(http.MethodPost)
	router.HandleFunc("/builds/{id}", c.handleGetBuild).Methods(http.MethodGet)
	router.HandleFunc("/builds/{id}", c.handleDeleteBuild).Methods(http.MethodDelete)
	return router
}

func (c *Control) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := c.oracle.GetStatistics(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, map[string]interface{}{
		"paused":     c.driver.Paused(),
		"statistics": stats,
		"slaves":     len(c.slaves.Slaves()),
	})
}

func (c *Control) handlePause(w http.ResponseWriter, r *http.Request) {
	c.driver.Pause()
	level.Info(c.logger).Log("msg", "dispatch paused")
	writeOK(w)
}

func (c *Control) handleResume(w http.ResponseWriter, r *http.Request) {
	c.driver.Resume()
	level.Info(c.logger).Log("msg", "dispatch resumed")
	writeOK(w)
}

func (c *Control) handleSlaves(w http.ResponseWriter, r *http.Request) {
	type slaveView struct {
		ID        string    `json:"id"`
		Label     string    `json:"label"`
		ABITag    string    `json:"abi_tag"`
		State     string    `json:"state"`
		LastSeen  time.Time `json:"last_seen"`
		Package   string    `json:"package,omitempty"`
		Version   string    `json:"version,omitempty"`
	}
	var views []slaveView
	for _, slave := range c.slaves.Slaves() {
		view := slaveView{
			ID:       slave.ID,
			Label:    slave.Label,
			ABITag:   slave.ABITag,
			State:    string(slave.State),
			LastSeen: slave.LastSeen,
		}
		if slave.Assignment != nil {
			view.Package = slave.Assignment.Package
			view.Version = slave.Assignment.Version
		}
		views = append(views, view)
	}
	writeJSON(w, views)
}

func (c *Control) handleKill(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !c.driver.Kill(id) {
		writeErrorString(w, http.StatusNotFound, "no such slave")
		return
	}
	level.Info(c.logger).Log("msg", "slave marked for termination", "slave", id)
	writeOK(w)
}

func (c *Control) handleAddPackage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if !readJSON(w, r, &body) {
		return
	}
	if body.Name == "" {
		writeErrorString(w, http.StatusBadRequest, "name is required")
		return
	}
	created, err := c.oracle.AddNewPackage(r.Context(), body.Name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, map[string]interface{}{"created": created})
}

func (c *Control) handleAddVersion(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Version  string    `json:"version"`
		Released time.Time `json:"released"`
	}
	if !readJSON(w, r, &body) {
		return
	}
	if body.Version == "" {
		writeErrorString(w, http.StatusBadRequest, "version is required")
		return
	}
	if body.Released.IsZero() {
		body.Released = time.Now().UTC()
	}
	created, err := c.oracle.AddNewPackageVersion(r.Context(), mux.Vars(r)["package"], body.Version, body.Released)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, map[string]interface{}{"created": created})
}

func (c *Control) handleSkipPackage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	if !readJSON(w, r, &body) {
		return
	}
	pkg := mux.Vars(r)["package"]
	if err := c.oracle.SkipPackage(r.Context(), pkg, body.Reason); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if body.Reason != "" {
		// Anything mid-build for the package is now unwanted.
		c.driver.Abort(pkg, "")
	}
	level.Info(c.logger).Log("msg", "package skip updated", "package", pkg, "reason", body.Reason)
	writeOK(w)
}

func (c *Control) handleSkipVersion(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	if !readJSON(w, r, &body) {
		return
	}
	vars := mux.Vars(r)
	pkg, version := vars["package"], vars["version"]
	if err := c.oracle.SkipPackageVersion(r.Context(), pkg, version, body.Reason); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if body.Reason != "" {
		c.driver.Abort(pkg, version)
	}
	level.Info(c.logger).Log("msg", "version skip updated", "package", pkg, "version", version, "reason", body.Reason)
	writeOK(w)
}

func (c *Control) handleRebuild(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	pkg, version := vars["package"], vars["version"]

	ids, err := c.oracle.GetVersionBuilds(r.Context(), pkg, version)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	var removed int
	for _, id := range ids {
		filenames, err := c.oracle.DeleteBuild(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		c.juggler.RemoveFiles(pkg, filenames)
		removed++
	}
	if removed > 0 {
		c.indexer.BuildDeleted(pkg)
	}
	level.Info(c.logger).Log("msg", "version queued for rebuild", "package", pkg, "version", version, "builds_removed", removed)
	writeJSON(w, map[string]interface{}{"builds_removed": removed})
}

func (c *Control) handleGetBuild(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeErrorString(w, http.StatusBadRequest, "invalid build id")
		return
	}
	build, files, err := c.oracle.GetBuild(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, map[string]interface{}{
		"build": build,
		"files": files,
	})
}

func (c *Control) handleDeleteBuild(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeErrorString(w, http.StatusBadRequest, "invalid build id")
		return
	}
	build, _, err := c.oracle.GetBuild(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	filenames, err := c.oracle.DeleteBuild(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	c.juggler.RemoveFiles(build.Package, filenames)
	c.indexer.BuildDeleted(build.Package)
	level.Info(c.logger).Log("msg", "build deleted", "id", id, "package", build.Package, "files", len(filenames))
	writeJSON(w, map[string]interface{}{"files_removed": filenames})
}

func readJSON(w http.ResponseWriter, r *http.Request, into interface{}) bool {
	if r.Body == nil {
		writeErrorString(w, http.StatusBadRequest, "missing body")
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		writeErrorString(w, http.StatusBadRequest, "malformed body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, value interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(value)
}

func writeOK(w http.ResponseWriter) {
	writeJSON(w, map[string]interface{}{"status": "ok"})
}

func writeError(w http.ResponseWriter, code int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]interface{}{"error": err.Error()})
}

func writeErrorString(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]interface{}{"error": msg})
}
