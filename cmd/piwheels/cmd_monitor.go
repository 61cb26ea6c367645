package main

import (
	"flag"

	"github.com/spoke-d/clui"
	"github.com/spoke-d/clui/flagset"
)

type monitorCmd struct {
	ui      clui.UI
	flagset *flagset.FlagSet
}

// NewMonitorCmd creates a Command with sane defaults
func NewMonitorCmd(ui clui.UI) clui.Command {
	c := &monitorCmd{
		ui:      ui,
		flagset: flagset.NewFlagSet("monitor", flag.ExitOnError),
	}
	c.init()
	return c
}

func (c *monitorCmd) init() {
}

// UI returns a UI for interaction.
func (c *monitorCmd) UI() clui.UI {
	return c.ui
}

// FlagSet returns the FlagSet associated with the command. All the flags are
// parsed before running the command.
func (c *monitorCmd) FlagSet() *flagset.FlagSet {
	return c.flagset
}

// Help should return a long-form help text that includes the command-line
// usage. A brief few sentences explaining the function of the command, and
// the complete list of flags the command accepts.
func (c *monitorCmd) Help() string {
	return `
Usage:

  monitor [flags]

Description:

  Inspect and administer a running master.

  The monitor subcommands query the master's control endpoint
  and attach to its live status feed.
`
}

// Synopsis should return a one-line, short synopsis of the command.
// This should be short (50 characters of less ideally).
func (c *monitorCmd) Synopsis() string {
	return "Master monitoring and administration."
}

// Run should run the actual command with the given CLI instance and
// command-line arguments. It should return the exit status when it is
// finished.
//
// There are a handful of special exit codes that can return documented
// behavioral changes.
func (c *monitorCmd) Run() clui.ExitCode {
	return clui.ExitCode{
		ShowHelp: true,
	}
}
