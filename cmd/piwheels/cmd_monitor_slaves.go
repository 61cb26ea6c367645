package main

import (
	"bytes"
	"context"
	"flag"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spoke-d/clui"
	"github.com/spoke-d/clui/flagset"

	"github.com/pdtopdog/piwheels/pkg/client"
)

type monitorSlavesCmd struct {
	ui      clui.UI
	flagset *flagset.FlagSet

	address string
}

// NewMonitorSlavesCmd creates a Command with sane defaults
func NewMonitorSlavesCmd(ui clui.UI) clui.Command {
	c := &monitorSlavesCmd{
		ui:      ui,
		flagset: flagset.NewFlagSet("slaves", flag.ExitOnError),
	}
	c.init()
	return c
}

func (c *monitorSlavesCmd) init() {
	c.flagset.StringVar(&c.address, "address", "http://127.0.0.1:8080", "master address")
}

// UI returns a UI for interaction.
func (c *monitorSlavesCmd) UI() clui.UI {
	return c.ui
}

// FlagSet returns the FlagSet associated with the command. All the flags are
// parsed before running the command.
func (c *monitorSlavesCmd) FlagSet() *flagset.FlagSet {
	return c.flagset
}

// Help should return a long-form help text that includes the command-line
// usage. A brief few sentences explaining the function of the command, and
// the complete list of flags the command accepts.
func (c *monitorSlavesCmd) Help() string {
	return `
Usage:

  monitor slaves [flags]

Description:

  List the slaves currently registered with the master.
`
}

// Synopsis should return a one-line, short synopsis of the command.
// This should be short (50 characters of less ideally).
func (c *monitorSlavesCmd) Synopsis() string {
	return "List registered slaves."
}

// Run should run the actual command with the given CLI instance and
// command-line arguments. It should return the exit status when it is
// finished.
//
// There are a handful of special exit codes that can return documented
// behavioral changes.
func (c *monitorSlavesCmd) Run() clui.ExitCode {
	cli, err := client.New(c.address)
	if err != nil {
		return exitWithConfig(c.ui, err.Error())
	}
	slaves, err := cli.Slaves(context.Background())
	if err != nil {
		return exit(c.ui, err.Error())
	}

	buf := new(bytes.Buffer)
	table := tablewriter.NewWriter(buf)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeader([]string{"ID", "Label", "ABI", "State", "Last seen", "Building"})
	for _, slave := range slaves {
		building := ""
		if slave.Package != "" {
			building = slave.Package + " " + slave.Version
		}
		table.Append([]string{
			slave.ID,
			slave.Label,
			slave.ABITag,
			slave.State,
			slave.LastSeen.Format(time.RFC3339),
			building,
		})
	}
	table.Render()
	c.ui.Output(buf.String())
	return clui.ExitCode{}
}
