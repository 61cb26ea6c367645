package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pborman/uuid"
	"github.com/spoke-d/clui"
	"github.com/spoke-d/clui/flagset"

	"github.com/pdtopdog/piwheels/pkg/slave"
)

type slaveCmd struct {
	ui      clui.UI
	flagset *flagset.FlagSet

	debug     bool
	masterURL string
	label     string
	abiTag    string
	pyTag     string
	workDir   string
}

// NewSlaveCmd creates a Command with sane defaults
func NewSlaveCmd(ui clui.UI) clui.Command {
	c := &slaveCmd{
		ui:      ui,
		flagset: flagset.NewFlagSet("slave", flag.ExitOnError),
	}
	c.init()
	return c
}

func (c *slaveCmd) init() {
	hostname, _ := os.Hostname()
	c.flagset.BoolVar(&c.debug, "debug", false, "debug logging")
	c.flagset.StringVar(&c.masterURL, "master", "ws://127.0.0.1:8080", "master address")
	c.flagset.StringVar(&c.label, "label", hostname, "label announced to the master")
	c.flagset.StringVar(&c.abiTag, "abi", "", "abi tag this slave builds for")
	c.flagset.StringVar(&c.pyTag, "py-tag", "", "python tag this slave builds with")
	c.flagset.StringVar(&c.workDir, "work-dir", os.TempDir(), "scratch directory for builds")
}

// UI returns a UI for interaction.
func (c *slaveCmd) UI() clui.UI {
	return c.ui
}

// FlagSet returns the FlagSet associated with the command. All the flags are
// parsed before running the command.
func (c *slaveCmd) FlagSet() *flagset.FlagSet {
	return c.flagset
}

// Help should return a long-form help text that includes the command-line
// usage. A brief few sentences explaining the function of the command, and
// the complete list of flags the command accepts.
func (c *slaveCmd) Help() string {
	return `
Usage:

  slave [flags]

Description:

  The piwheels builder (daemon)

  The slave registers with a master, accepts one build at a
  time, runs pip wheel and uploads the produced artifacts.

Example:

  piwheels slave --master ws://10.0.0.1:8080 --abi cp39m
`
}

// Synopsis should return a one-line, short synopsis of the command.
// This should be short (50 characters of less ideally).
func (c *slaveCmd) Synopsis() string {
	return "Build slave daemon."
}

// Run should run the actual command with the given CLI instance and
// command-line arguments. It should return the exit status when it is
// finished.
//
// There are a handful of special exit codes that can return documented
// behavioral changes.
func (c *slaveCmd) Run() clui.ExitCode {
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

	if c.abiTag == "" {
		return exitWithConfig(c.ui, "an abi tag is required")
	}

	s := slave.New(c.masterURL, slave.Info{
		Label:       c.label,
		ABITag:      c.abiTag,
		PlatformTag: "linux_" + runtime.GOARCH,
		PyTag:       c.pyTag,
		OSName:      runtime.GOOS,
	}, slave.NewPipBuilder(c.workDir),
		slave.WithLogger(log.WithPrefix(logger, "component", "slave")),
	)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	if err := s.Run(ctx); err != nil {
		return exit(c.ui, err.Error())
	}
	return clui.ExitCode{}
}
