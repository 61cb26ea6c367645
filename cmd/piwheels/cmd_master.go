package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pborman/uuid"
	"github.com/spoke-d/clui"
	"github.com/spoke-d/clui/flagset"

	"github.com/pdtopdog/piwheels/internal/config"
	"github.com/pdtopdog/piwheels/pkg/master"
)

type masterCmd struct {
	ui      clui.UI
	flagset *flagset.FlagSet

	debug      bool
	configPath string
	database   string
	output     string
	bindAddr   string
}

// NewMasterCmd creates a Command with sane defaults
func NewMasterCmd(ui clui.UI) clui.Command {
	c := &masterCmd{
		ui:      ui,
		flagset: flagset.NewFlagSet("master", flag.ExitOnError),
	}
	c.init()
	return c
}

func (c *masterCmd) init() {
	c.flagset.BoolVar(&c.debug, "debug", false, "debug logging")
	c.flagset.StringVar(&c.configPath, "config", "", "path to the configuration file")
	c.flagset.StringVar(&c.database, "database", "", "override the database path")
	c.flagset.StringVar(&c.output, "output", "", "override the output path")
	c.flagset.StringVar(&c.bindAddr, "bind-addr", "", "override the listen address")
}

// UI returns a UI for interaction.
func (c *masterCmd) UI() clui.UI {
	return c.ui
}

// FlagSet returns the FlagSet associated with the command. All the flags are
// parsed before running the command.
func (c *masterCmd) FlagSet() *flagset.FlagSet {
	return c.flagset
}

// Help should return a long-form help text that includes the command-line
// usage. A brief few sentences explaining the function of the command, and
// the complete list of flags the command accepts.
func (c *masterCmd) Help() string {
	return `
Usage:

  master [flags]

Description:

  The piwheels master (daemon)

  The master discovers new package versions from the upstream
  index, dispatches builds to the slave fleet, collects and
  verifies the produced wheels, records their provenance and
  republishes the static index pages.

Example:

  piwheels master --config /etc/piwheels.yaml
  piwheels master --database piwheels.db --output www
`
}

// Synopsis should return a one-line, short synopsis of the command.
// This should be short (50 characters of less ideally).
func (c *masterCmd) Synopsis() string {
	return "Build farm master daemon."
}

// Run should run the actual command with the given CLI instance and
// command-line arguments. It should return the exit status when it is
// finished.
//
// There are a handful of special exit codes that can return documented
// behavioral changes.
func (c *masterCmd) Run() clui.ExitCode {
	// Logging.
	var logger log.Logger
	{
		logLevel := level.AllowInfo()
		if c.debug {
			logLevel = level.AllowAll()
		}
		logger = NewLogCluiFormatter(c.UI())
		logger = log.With(logger,
			"ts", log.DefaultTimestampUTC,
			"uid", uuid.NewRandom().String(),
		)
		logger = level.NewFilter(logger, logLevel)
	}

	cfg := config.Default()
	if c.configPath != "" {
		var err error
		if cfg, err = config.Read(c.configPath); err != nil {
			return exitWithConfig(c.ui, err.Error())
		}
	}
	if c.database != "" {
		cfg.Database = c.database
	}
	if c.output != "" {
		cfg.Output = c.output
	}
	if c.bindAddr != "" {
		cfg.BindAddr = c.bindAddr
	}
	if err := cfg.Validate(); err != nil {
		return exitWithConfig(c.ui, err.Error())
	}

	m := master.New(cfg,
		master.WithLogger(log.WithPrefix(logger, "component", "master")),
	)
	if err := m.Init(); err != nil {
		return exit(c.ui, err.Error())
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	if err := m.Run(ctx); err != nil {
		return exit(c.ui, err.Error())
	}
	return clui.ExitCode{}
}
