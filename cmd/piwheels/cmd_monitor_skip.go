package main

import (
	"context"
	"flag"

	"github.com/spoke-d/clui"
	"github.com/spoke-d/clui/flagset"

	"github.com/pdtopdog/piwheels/pkg/client"
)

type monitorSkipCmd struct {
	ui      clui.UI
	flagset *flagset.FlagSet

	address string
	version string
	reason  string
	unskip  bool
}

// NewMonitorSkipCmd creates a Command with sane defaults
func NewMonitorSkipCmd(ui clui.UI) clui.Command {
	c := &monitorSkipCmd{
		ui:      ui,
		flagset: flagset.NewFlagSet("skip", flag.ExitOnError),
	}
	c.init()
	return c
}

func (c *monitorSkipCmd) init() {
	c.flagset.StringVar(&c.address, "address", "http://127.0.0.1:8080", "master address")
	c.flagset.StringVar(&c.version, "version", "", "skip only this version")
	c.flagset.StringVar(&c.reason, "reason", "manual", "reason recorded for the skip")
	c.flagset.BoolVar(&c.unskip, "unskip", false, "clear the skip reason instead of setting one")
}

// UI returns a UI for interaction.
func (c *monitorSkipCmd) UI() clui.UI {
	return c.ui
}

// FlagSet returns the FlagSet associated with the command. All the flags are
// parsed before running the command.
func (c *monitorSkipCmd) FlagSet() *flagset.FlagSet {
	return c.flagset
}

// Help should return a long-form help text that includes the command-line
// usage. A brief few sentences explaining the function of the command, and
// the complete list of flags the command accepts.
func (c *monitorSkipCmd) Help() string {
	return `
Usage:

  monitor skip [flags] <package>

Description:

  Record a skip reason on a package, or one of its versions,
  hiding it from the pending build queue. Anything mid-build
  for it is aborted without recording. Rows are never deleted;
  clear the reason with --unskip to make it buildable again.

Example:

  piwheels monitor skip foo --reason "fails to compile"
  piwheels monitor skip foo --version 1.0 --reason bad-build
  piwheels monitor skip foo --unskip
`
}

// Synopsis should return a one-line, short synopsis of the command.
// This should be short (50 characters of less ideally).
func (c *monitorSkipCmd) Synopsis() string {
	return "Skip a package or version."
}

// Run should run the actual command with the given CLI instance and
// command-line arguments. It should return the exit status when it is
// finished.
//
// There are a handful of special exit codes that can return documented
// behavioral changes.
func (c *monitorSkipCmd) Run() clui.ExitCode {
	args := c.flagset.Args()
	if len(args) != 1 {
		return exitWithConfig(c.ui, "expected exactly one package name")
	}

	reason := c.reason
	if c.unskip {
		reason = ""
	}

	cli, err := client.New(c.address)
	if err != nil {
		return exitWithConfig(c.ui, err.Error())
	}
	ctx := context.Background()
	if c.version != "" {
		err = cli.SkipVersion(ctx, args[0], c.version, reason)
	} else {
		err = cli.SkipPackage(ctx, args[0], reason)
	}
	if err != nil {
		return exit(c.ui, err.Error())
	}
	c.ui.Info("skip updated")
	return clui.ExitCode{}
}
