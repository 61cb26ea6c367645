package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spoke-d/clui"
	"github.com/spoke-d/clui/flagset"

	"github.com/pdtopdog/piwheels/pkg/client"
)

type monitorWatchCmd struct {
	ui      clui.UI
	flagset *flagset.FlagSet

	address string
	types   string
}

// NewMonitorWatchCmd creates a Command with sane defaults
func NewMonitorWatchCmd(ui clui.UI) clui.Command {
	c := &monitorWatchCmd{
		ui:      ui,
		flagset: flagset.NewFlagSet("watch", flag.ExitOnError),
	}
	c.init()
	return c
}

func (c *monitorWatchCmd) init() {
	c.flagset.StringVar(&c.address, "address", "http://127.0.0.1:8080", "master address")
	c.flagset.StringVar(&c.types, "types", "", "comma separated event types (stats,slave,build)")
}

// UI returns a UI for interaction.
func (c *monitorWatchCmd) UI() clui.UI {
	return c.ui
}

// FlagSet returns the FlagSet associated with the command. All the flags are
// parsed before running the command.
func (c *monitorWatchCmd) FlagSet() *flagset.FlagSet {
	return c.flagset
}

// Help should return a long-form help text that includes the command-line
// usage. A brief few sentences explaining the function of the command, and
// the complete list of flags the command accepts.
func (c *monitorWatchCmd) Help() string {
	return `
Usage:

  monitor watch [flags]

Description:

  Attach to the master's live status feed and print events as
  they arrive, until interrupted.

Example:

  piwheels monitor watch
  piwheels monitor watch --types slave,build
`
}

// Synopsis should return a one-line, short synopsis of the command.
// This should be short (50 characters of less ideally).
func (c *monitorWatchCmd) Synopsis() string {
	return "Follow the live status feed."
}

// Run should run the actual command with the given CLI instance and
// command-line arguments. It should return the exit status when it is
// finished.
//
// There are a handful of special exit codes that can return documented
// behavioral changes.
func (c *monitorWatchCmd) Run() clui.ExitCode {
	cli, err := client.New(c.address)
	if err != nil {
		return exitWithConfig(c.ui, err.Error())
	}

	var types []string
	if c.types != "" {
		types = strings.Split(c.types, ",")
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	events, err := cli.Events(ctx, types)
	if err != nil {
		return exit(c.ui, err.Error())
	}
	for event := range events {
		var fields []string
		for key, value := range event.Payload {
			fields = append(fields, fmt.Sprintf("%s=%v", key, value))
		}
		c.ui.Output(fmt.Sprintf("%s %s %s",
			event.Timestamp.Format("15:04:05"),
			event.Type,
			strings.Join(fields, " "),
		))
	}
	return clui.ExitCode{}
}
