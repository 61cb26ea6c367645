package main

import (
	"flag"

	"github.com/spoke-d/clui"
	"github.com/spoke-d/clui/flagset"

	"github.com/pdtopdog/piwheels/internal/version"
)

type versionCmd struct {
	ui      clui.UI
	flagset *flagset.FlagSet
}

// NewVersionCmd creates a Command with sane defaults
func NewVersionCmd(ui clui.UI) clui.Command {
	c := &versionCmd{
		ui:      ui,
		flagset: flagset.NewFlagSet("version", flag.ExitOnError),
	}
	c.init()
	return c
}

func (c *versionCmd) init() {
}

// UI returns a UI for interaction.
func (c *versionCmd) UI() clui.UI {
	return c.ui
}

// FlagSet returns the FlagSet associated with the command. All the flags are
// parsed before running the command.
func (c *versionCmd) FlagSet() *flagset.FlagSet {
	return c.flagset
}

// Help should return a long-form help text that includes the command-line
// usage. A brief few sentences explaining the function of the command, and
// the complete list of flags the command accepts.
func (c *versionCmd) Help() string {
	return `
Usage:

  version

Description:

  Show the piwheels version.
`
}

// Synopsis should return a one-line, short synopsis of the command.
// This should be short (50 characters of less ideally).
func (c *versionCmd) Synopsis() string {
	return "Show the version."
}

// Run should run the actual command with the given CLI instance and
// command-line arguments. It should return the exit status when it is
// finished.
//
// There are a handful of special exit codes that can return documented
// behavioral changes.
func (c *versionCmd) Run() clui.ExitCode {
	c.ui.Output(version.Version)
	return clui.ExitCode{}
}
