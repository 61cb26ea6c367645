package main

import (
	"context"
	"flag"

	"github.com/spoke-d/clui"
	"github.com/spoke-d/clui/flagset"

	"github.com/pdtopdog/piwheels/pkg/client"
)

type monitorRebuildCmd struct {
	ui      clui.UI
	flagset *flagset.FlagSet

	address string
	version string
}

// NewMonitorRebuildCmd creates a Command with sane defaults
func NewMonitorRebuildCmd(ui clui.UI) clui.Command {
	c := &monitorRebuildCmd{
		ui:      ui,
		flagset: flagset.NewFlagSet("rebuild", flag.ExitOnError),
	}
	c.init()
	return c
}

func (c *monitorRebuildCmd) init() {
	c.flagset.StringVar(&c.address, "address", "http://127.0.0.1:8080", "master address")
	c.flagset.StringVar(&c.version, "version", "", "version to rebuild")
}

// UI returns a UI for interaction.
func (c *monitorRebuildCmd) UI() clui.UI {
	return c.ui
}

// FlagSet returns the FlagSet associated with the command. All the flags are
// parsed before running the command.
func (c *monitorRebuildCmd) FlagSet() *flagset.FlagSet {
	return c.flagset
}

// Help should return a long-form help text that includes the command-line
// usage. A brief few sentences explaining the function of the command, and
// the complete list of flags the command accepts.
func (c *monitorRebuildCmd) Help() string {
	return `
Usage:

  monitor rebuild [flags] <package>

Description:

  Remove the recorded builds of a version so it re-enters the
  pending queue and is rebuilt by the next idle slave. The
  wheels it produced are removed from the served area and the
  affected index pages are rewritten.

Example:

  piwheels monitor rebuild foo --version 1.0
`
}

// Synopsis should return a one-line, short synopsis of the command.
// This should be short (50 characters of less ideally).
func (c *monitorRebuildCmd) Synopsis() string {
	return "Queue a version for rebuild."
}

// Run should run the actual command with the given CLI instance and
// command-line arguments. It should return the exit status when it is
// finished.
//
// There are a handful of special exit codes that can return documented
// behavioral changes.
func (c *monitorRebuildCmd) Run() clui.ExitCode {
	args := c.flagset.Args()
	if len(args) != 1 {
		return exitWithConfig(c.ui, "expected exactly one package name")
	}
	if c.version == "" {
		return exitWithConfig(c.ui, "a version is required")
	}

	cli, err := client.New(c.address)
	if err != nil {
		return exitWithConfig(c.ui, err.Error())
	}
	if err := cli.Rebuild(context.Background(), args[0], c.version); err != nil {
		return exit(c.ui, err.Error())
	}
	c.ui.Info("queued for rebuild")
	return clui.ExitCode{}
}
