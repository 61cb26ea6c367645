package main

import (
	"context"
	"flag"

	"github.com/spoke-d/clui"
	"github.com/spoke-d/clui/flagset"

	"github.com/pdtopdog/piwheels/pkg/client"
)

type monitorResumeCmd struct {
	ui      clui.UI
	flagset *flagset.FlagSet

	address string
}

// NewMonitorResumeCmd creates a Command with sane defaults
func NewMonitorResumeCmd(ui clui.UI) clui.Command {
	c := &monitorResumeCmd{
		ui:      ui,
		flagset: flagset.NewFlagSet("resume", flag.ExitOnError),
	}
	c.init()
	return c
}

func (c *monitorResumeCmd) init() {
	c.flagset.StringVar(&c.address, "address", "http://127.0.0.1:8080", "master address")
}

// UI returns a UI for interaction.
func (c *monitorResumeCmd) UI() clui.UI {
	return c.ui
}

// FlagSet returns the FlagSet associated with the command. All the flags are
// parsed before running the command.
func (c *monitorResumeCmd) FlagSet() *flagset.FlagSet {
	return c.flagset
}

// Help should return a long-form help text that includes the command-line
// usage. A brief few sentences explaining the function of the command, and
// the complete list of flags the command accepts.
func (c *monitorResumeCmd) Help() string {
	return `
Usage:

  monitor resume [flags]

Description:

  Restore build dispatch after a pause.
`
}

// Synopsis should return a one-line, short synopsis of the command.
// This should be short (50 characters of less ideally).
func (c *monitorResumeCmd) Synopsis() string {
	return "Resume build dispatch."
}

// Run should run the actual command with the given CLI instance and
// command-line arguments. It should return the exit status when it is
// finished.
//
// There are a handful of special exit codes that can return documented
// behavioral changes.
func (c *monitorResumeCmd) Run() clui.ExitCode {
	cli, err := client.New(c.address)
	if err != nil {
		return exitWithConfig(c.ui, err.Error())
	}
	if err := cli.Resume(context.Background()); err != nil {
		return exit(c.ui, err.Error())
	}
	c.ui.Info("dispatch resumed")
	return clui.ExitCode{}
}
