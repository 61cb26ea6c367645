package master

import (
	"context"
	"net/http"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/spoke-d/task"

	"github.com/pdtopdog/piwheels/internal/config"
	"github.com/pdtopdog/piwheels/internal/db"
	"github.com/pdtopdog/piwheels/internal/db/broker"
	"github.com/pdtopdog/piwheels/internal/fsys"
	"github.com/pdtopdog/piwheels/internal/pypi"
	"github.com/pdtopdog/piwheels/pkg/master/control"
	"github.com/pdtopdog/piwheels/pkg/master/driver"
	"github.com/pdtopdog/piwheels/pkg/master/gazer"
	"github.com/pdtopdog/piwheels/pkg/master/importer"
	"github.com/pdtopdog/piwheels/pkg/master/indexer"
	"github.com/pdtopdog/piwheels/pkg/master/juggler"
	"github.com/pdtopdog/piwheels/pkg/master/lumberjack"
	"github.com/pdtopdog/piwheels/pkg/master/registry"
	"github.com/pdtopdog/piwheels/pkg/master/scribe"
	"github.com/pdtopdog/piwheels/pkg/master/secretary"
	"github.com/pdtopdog/piwheels/pkg/master/status"
)

// Master hosts every actor of the build farm in one process: the
// database worker pool behind the broker, the slave driver, the file
// juggler, the scribe, the secretary, the cloud gazer, the lumberjack,
// the status feed and the control endpoint. Actors communicate over
// in-process queues; the network boundary is one HTTP listener.
type Master struct {
	cfg        config.Config
	fileSystem fsys.FileSystem
	logger     log.Logger

	broker    *broker.Broker
	client    *broker.Client
	secretary *secretary.Secretary
	scribe    *scribe.Scribe
	driver    *driver.Driver
	juggler   *juggler.Juggler
	gazer     *gazer.Gazer
	status    *status.Status
	server    *http.Server
	tasks     *task.Group
}

// New creates a Master from its configuration.
func New(cfg config.Config, options ...Option) *Master {
	opts := newOptions()
	for _, option := range options {
		option(opts)
	}

	return &Master{
		cfg:        cfg,
		fileSystem: opts.fileSystem,
		logger:     opts.logger,
		tasks:      task.NewGroup(),
	}
}

// Init opens the database pool, ensures the schema, prepares the
// filesystem areas and wires every actor together. An error here is
// fatal; the daemon refuses to start on a broken foundation.
func (m *Master) Init() error {
	workers := make([]broker.Executor, m.cfg.DBWorkers)
	for i := 0; i < m.cfg.DBWorkers; i++ {
		database, err := db.Open(m.cfg.Database,
			db.WithLogger(log.WithPrefix(m.logger, "component", "db")),
		)
		if err != nil {
			return errors.Wrap(err, "failed to open database")
		}
		if i == 0 {
			if _, err := database.EnsureSchema(); err != nil {
				return errors.Wrap(err, "failed to ensure schema")
			}
			if err := database.SetBuildABIs(m.cfg.ABIs); err != nil {
				return errors.Wrap(err, "failed to record build abis")
			}
		}
		workers[i] = broker.NewWorker(database)
	}
	m.broker = broker.New(workers,
		broker.WithQueueSize(m.cfg.QueueSize),
		broker.WithLogger(log.WithPrefix(m.logger, "component", "db-broker")),
	)
	m.client = broker.NewClient(m.broker)

	reg := registry.New()
	m.status = status.New(m.client, reg,
		status.WithInterval(time.Duration(m.cfg.StatusInterval)),
		status.WithLogger(log.WithPrefix(m.logger, "component", "status")),
	)

	m.scribe = scribe.New(m.fileSystem, m.cfg.Output, m.client,
		scribe.WithInterval(time.Duration(m.cfg.IndexInterval)),
		scribe.WithLogger(log.WithPrefix(m.logger, "component", "scribe")),
	)
	idx := indexer.New(m.scribe,
		indexer.WithLogger(log.WithPrefix(m.logger, "component", "indexer")),
	)
	m.secretary = secretary.New(m.client, idx,
		secretary.WithQueueSize(m.cfg.QueueSize),
		secretary.WithLogger(log.WithPrefix(m.logger, "component", "secretary")),
	)

	m.juggler = juggler.New(m.fileSystem, m.cfg.Output, m.secretary,
		juggler.WithRetries(m.cfg.TransferRetries),
		juggler.WithLogger(log.WithPrefix(m.logger, "component", "juggler")),
	)
	if err := m.juggler.Setup(); err != nil {
		return errors.Wrap(err, "failed to prepare the wheel area")
	}

	m.driver = driver.New(reg, m.client, m.juggler, m.secretary,
		driver.WithEvents(m.status),
		driver.WithSleep(time.Duration(m.cfg.SleepMin), time.Duration(m.cfg.SleepMax)),
		driver.WithTimeouts(time.Duration(m.cfg.BusyTimeout), time.Duration(m.cfg.IdleTimeout)),
		driver.WithLogger(log.WithPrefix(m.logger, "component", "driver")),
	)

	index, err := pypi.New(m.cfg.PyPIURL,
		pypi.WithLogger(log.WithPrefix(m.logger, "component", "pypi")),
	)
	if err != nil {
		return errors.Wrap(err, "failed to build index client")
	}
	m.gazer = gazer.New(index, m.client, m.secretary,
		gazer.WithInterval(time.Duration(m.cfg.PollInterval)),
		gazer.WithLogger(log.WithPrefix(m.logger, "component", "gazer")),
	)

	jack := lumberjack.New(m.secretary,
		lumberjack.WithLogger(log.WithPrefix(m.logger, "component", "lumberjack")),
	)
	imp := importer.New(m.juggler, m.secretary,
		importer.WithLogger(log.WithPrefix(m.logger, "component", "importer")),
	)
	ctl := control.New(m.client, m.driver, m.juggler, idx, m.status,
		control.WithLogger(log.WithPrefix(m.logger, "component", "control")),
	)

	router := mux.NewRouter()
	router.Handle("/slaves", m.driver)
	router.Handle("/files", m.juggler)
	router.Handle("/events", m.status)
	router.Handle("/logs", jack)
	router.Handle("/import", imp)
	router.PathPrefix("/control/").Handler(http.StripPrefix("/control", ctl.Router()))

	m.server = &http.Server{
		Addr:    m.cfg.BindAddr,
		Handler: router,
	}
	return nil
}

// Run starts every actor and blocks until the context is cancelled or
// the listener fails. Shutdown is broadcast once: actors drain their
// queues, in-flight database transactions finish, sockets close.
func (m *Master) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	brokerDone := make(chan struct{})
	go func() {
		m.broker.Run(runCtx)
		close(brokerDone)
	}()
	secretaryDone := make(chan struct{})
	go func() {
		m.secretary.Run(runCtx)
		close(secretaryDone)
	}()

	// Rebuild the on-disk pages from the database before serving; the
	// filesystem is derived state.
	if err := m.scribe.Setup(runCtx); err != nil {
		return errors.Wrap(err, "failed to render initial pages")
	}

	m.tasks.Add(m.scribe.Run())
	m.tasks.Add(m.gazer.Run())
	m.tasks.Add(m.status.Run())
	m.tasks.Add(m.driver.Run())
	m.tasks.Start()

	serverErr := make(chan error, 1)
	go func() {
		level.Info(m.logger).Log("msg", "master listening", "addr", m.cfg.BindAddr)
		if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		runErr = errors.Wrap(err, "listener failed")
	}

	level.Info(m.logger).Log("msg", "shutting down")

	// Server.Shutdown never touches hijacked connections, so the slave
	// and transfer websockets are told to go away first: every slave is
	// marked killed with its assignment aborted (a slave mid-exchange
	// gets DONE without recording) and the sockets are closed so the
	// read loops unwind.
	m.driver.Shutdown()
	m.juggler.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	m.server.Shutdown(shutdownCtx)

	if err := m.tasks.Stop(3 * time.Second); err != nil {
		level.Warn(m.logger).Log("msg", "tasks did not stop cleanly", "err", err)
	}

	// The secretary drains its queue before exiting, then the broker
	// finishes in-flight transactions.
	cancel()
	<-secretaryDone
	<-brokerDone
	if err := m.broker.Close(); err != nil {
		level.Warn(m.logger).Log("msg", "failed to close database pool", "err", err)
	}
	return runErr
}
