package main

import (
	"context"
	"flag"

	"github.com/spoke-d/clui"
	"github.com/spoke-d/clui/flagset"

	"github.com/pdtopdog/piwheels/pkg/client"
)

type monitorStatusCmd struct {
	ui      clui.UI
	flagset *flagset.FlagSet

	address string
	format  string
}

// NewMonitorStatusCmd creates a Command with sane defaults
func NewMonitorStatusCmd(ui clui.UI) clui.Command {
	c := &monitorStatusCmd{
		ui:      ui,
		flagset: flagset.NewFlagSet("status", flag.ExitOnError),
	}
	c.init()
	return c
}

func (c *monitorStatusCmd) init() {
	c.flagset.StringVar(&c.address, "address", "http://127.0.0.1:8080", "master address")
	c.flagset.StringVar(&c.format, "format", "yaml", "format to output the information json|yaml")
}

// UI returns a UI for interaction.
func (c *monitorStatusCmd) UI() clui.UI {
	return c.ui
}

// FlagSet returns the FlagSet associated with the command. All the flags are
// parsed before running the command.
func (c *monitorStatusCmd) FlagSet() *flagset.FlagSet {
	return c.flagset
}

// Help should return a long-form help text that includes the command-line
// usage. A brief few sentences explaining the function of the command, and
// the complete list of flags the command accepts.
func (c *monitorStatusCmd) Help() string {
	return `
Usage:

  monitor status [flags]

Description:

  Show the master's statistics snapshot.

Example:

  piwheels monitor status
  piwheels monitor status --format json
`
}

// Synopsis should return a one-line, short synopsis of the command.
// This should be short (50 characters of less ideally).
func (c *monitorStatusCmd) Synopsis() string {
	return "Show master statistics."
}

// Run should run the actual command with the given CLI instance and
// command-line arguments. It should return the exit status when it is
// finished.
//
// There are a handful of special exit codes that can return documented
// behavioral changes.
func (c *monitorStatusCmd) Run() clui.ExitCode {
	if !contains([]string{"json", "yaml"}, c.format) {
		return exitWithConfig(c.ui, "invalid format type (expected: json|yaml)")
	}

	cli, err := client.New(c.address)
	if err != nil {
		return exitWithConfig(c.ui, err.Error())
	}
	status, err := cli.Status(context.Background())
	if err != nil {
		return exit(c.ui, err.Error())
	}

	content, err := outputContent(c.format, status)
	if err != nil {
		return exit(c.ui, err.Error())
	}
	c.ui.Output(string(content))
	return clui.ExitCode{}
}
