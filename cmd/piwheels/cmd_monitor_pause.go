package main

import (
	"context"
	"flag"

	"github.com/spoke-d/clui"
	"github.com/spoke-d/clui/flagset"

	"github.com/pdtopdog/piwheels/pkg/client"
)

type monitorPauseCmd struct {
	ui      clui.UI
	flagset *flagset.FlagSet

	address string
}

// NewMonitorPauseCmd creates a Command with sane defaults
func NewMonitorPauseCmd(ui clui.UI) clui.Command {
	c := &monitorPauseCmd{
		ui:      ui,
		flagset: flagset.NewFlagSet("pause", flag.ExitOnError),
	}
	c.init()
	return c
}

func (c *monitorPauseCmd) init() {
	c.flagset.StringVar(&c.address, "address", "http://127.0.0.1:8080", "master address")
}

// UI returns a UI for interaction.
func (c *monitorPauseCmd) UI() clui.UI {
	return c.ui
}

// FlagSet returns the FlagSet associated with the command. All the flags are
// parsed before running the command.
func (c *monitorPauseCmd) FlagSet() *flagset.FlagSet {
	return c.flagset
}

// Help should return a long-form help text that includes the command-line
// usage. A brief few sentences explaining the function of the command, and
// the complete list of flags the command accepts.
func (c *monitorPauseCmd) Help() string {
	return `
Usage:

  monitor pause [flags]

Description:

  Stop handing builds to slaves. Idle slaves are put to sleep
  until dispatch is resumed.
`
}

// Synopsis should return a one-line, short synopsis of the command.
// This should be short (50 characters of less ideally).
func (c *monitorPauseCmd) Synopsis() string {
	return "Pause build dispatch."
}

// Run should run the actual command with the given CLI instance and
// command-line arguments. It should return the exit status when it is
// finished.
//
// There are a handful of special exit codes that can return documented
// behavioral changes.
func (c *monitorPauseCmd) Run() clui.ExitCode {
	cli, err := client.New(c.address)
	if err != nil {
		return exitWithConfig(c.ui, err.Error())
	}
	if err := cli.Pause(context.Background()); err != nil {
		return exit(c.ui, err.Error())
	}
	c.ui.Info("dispatch paused")
	return clui.ExitCode{}
}
