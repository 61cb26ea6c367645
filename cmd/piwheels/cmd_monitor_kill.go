package main

import (
	"context"
	"flag"

	"github.com/spoke-d/clui"
	"github.com/spoke-d/clui/flagset"

	"github.com/pdtopdog/piwheels/pkg/client"
)

type monitorKillCmd struct {
	ui      clui.UI
	flagset *flagset.FlagSet

	address string
}

// NewMonitorKillCmd creates a Command with sane defaults
func NewMonitorKillCmd(ui clui.UI) clui.Command {
	c := &monitorKillCmd{
		ui:      ui,
		flagset: flagset.NewFlagSet("kill", flag.ExitOnError),
	}
	c.init()
	return c
}

func (c *monitorKillCmd) init() {
	c.flagset.StringVar(&c.address, "address", "http://127.0.0.1:8080", "master address")
}

// UI returns a UI for interaction.
func (c *monitorKillCmd) UI() clui.UI {
	return c.ui
}

// FlagSet returns the FlagSet associated with the command. All the flags are
// parsed before running the command.
func (c *monitorKillCmd) FlagSet() *flagset.FlagSet {
	return c.flagset
}

// Help should return a long-form help text that includes the command-line
// usage. A brief few sentences explaining the function of the command, and
// the complete list of flags the command accepts.
func (c *monitorKillCmd) Help() string {
	return `
Usage:

  monitor kill [flags] <slave-id>

Description:

  Mark a slave for termination. The slave is told to die on its
  next message; a slave in the middle of reporting or uploading a
  build is answered first and told to die on the message after.
`
}

// Synopsis should return a one-line, short synopsis of the command.
// This should be short (50 characters of less ideally).
func (c *monitorKillCmd) Synopsis() string {
	return "Terminate a slave."
}

// Run should run the actual command with the given CLI instance and
// command-line arguments. It should return the exit status when it is
// finished.
//
// There are a handful of special exit codes that can return documented
// behavioral changes.
func (c *monitorKillCmd) Run() clui.ExitCode {
	args := c.flagset.Args()
	if len(args) != 1 {
		return exitWithConfig(c.ui, "expected exactly one slave id")
	}

	cli, err := client.New(c.address)
	if err != nil {
		return exitWithConfig(c.ui, err.Error())
	}
	if err := cli.KillSlave(context.Background(), args[0]); err != nil {
		return exit(c.ui, err.Error())
	}
	c.ui.Info("slave marked for termination")
	return clui.ExitCode{}
}
