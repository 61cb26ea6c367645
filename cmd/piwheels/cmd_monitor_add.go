package main

import (
	"context"
	"flag"

	"github.com/spoke-d/clui"
	"github.com/spoke-d/clui/flagset"

	"github.com/pdtopdog/piwheels/pkg/client"
)

type monitorAddCmd struct {
	ui      clui.UI
	flagset *flagset.FlagSet

	address string
	version string
}

// NewMonitorAddCmd creates a Command with sane defaults
func NewMonitorAddCmd(ui clui.UI) clui.Command {
	c := &monitorAddCmd{
		ui:      ui,
		flagset: flagset.NewFlagSet("add", flag.ExitOnError),
	}
	c.init()
	return c
}

func (c *monitorAddCmd) init() {
	c.flagset.StringVar(&c.address, "address", "http://127.0.0.1:8080", "master address")
	c.flagset.StringVar(&c.version, "version", "", "version to register alongside the package")
}

// UI returns a UI for interaction.
func (c *monitorAddCmd) UI() clui.UI {
	return c.ui
}

// FlagSet returns the FlagSet associated with the command. All the flags are
// parsed before running the command.
func (c *monitorAddCmd) FlagSet() *flagset.FlagSet {
	return c.flagset
}

// Help should return a long-form help text that includes the command-line
// usage. A brief few sentences explaining the function of the command, and
// the complete list of flags the command accepts.
func (c *monitorAddCmd) Help() string {
	return `
Usage:

  monitor add [flags] <package>

Description:

  Register a package, and optionally one version of it, without
  waiting for the upstream index poll to discover it.

Example:

  piwheels monitor add foo
  piwheels monitor add foo --version 1.0
`
}

// Synopsis should return a one-line, short synopsis of the command.
// This should be short (50 characters of less ideally).
func (c *monitorAddCmd) Synopsis() string {
	return "Register a package or version."
}

// Run should run the actual command with the given CLI instance and
// command-line arguments. It should return the exit status when it is
// finished.
//
// There are a handful of special exit codes that can return documented
// behavioral changes.
func (c *monitorAddCmd) Run() clui.ExitCode {
	args := c.flagset.Args()
	if len(args) != 1 {
		return exitWithConfig(c.ui, "expected exactly one package name")
	}

	cli, err := client.New(c.address)
	if err != nil {
		return exitWithConfig(c.ui, err.Error())
	}
	ctx := context.Background()
	if err := cli.AddPackage(ctx, args[0]); err != nil {
		return exit(c.ui, err.Error())
	}
	if c.version != "" {
		if err := cli.AddVersion(ctx, args[0], c.version); err != nil {
			return exit(c.ui, err.Error())
		}
	}
	c.ui.Info("registered")
	return clui.ExitCode{}
}
