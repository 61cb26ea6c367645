package main

import (
	"fmt"
	"os"

	"github.com/spoke-d/clui"
	"github.com/spoke-d/clui/style"
)

const header = `
██████╗ ██╗██╗    ██╗██╗  ██╗███████╗███████╗██╗     ███████╗
██╔══██╗██║██║    ██║██║  ██║██╔════╝██╔════╝██║     ██╔════╝
██████╔╝██║██║ █╗ ██║███████║█████╗  █████╗  ██║     ███████╗
██╔═══╝ ██║██║███╗██║██╔══██║██╔══╝  ██╔══╝  ██║     ╚════██║
██║     ██║╚███╔███╔╝██║  ██║███████╗███████╗███████╗███████║
╚═╝     ╚═╝ ╚══╝╚══╝ ╚═╝  ╚═╝╚══════╝╚══════╝╚══════╝╚══════╝
`

func main() {
	ui := clui.NewColorUI(clui.NewBasicUI(os.Stdin, os.Stdout))
	ui.OutputColor = style.New(style.FgWhite)
	ui.InfoColor = style.New(style.FgGreen)
	ui.WarnColor = style.New(style.FgYellow)
	ui.ErrorColor = style.New(style.FgRed)

	cli := clui.NewCLI("piwheels", "0.1.0", header, clui.CLIOptions{
		UI: ui,
	})
	cli.AddCommand("master", NewMasterCmd(ui))
	cli.AddCommand("slave", NewSlaveCmd(ui))
	cli.AddCommand("monitor", NewMonitorCmd(ui))
	cli.AddCommand("monitor status", NewMonitorStatusCmd(ui))
	cli.AddCommand("monitor slaves", NewMonitorSlavesCmd(ui))
	cli.AddCommand("monitor watch", NewMonitorWatchCmd(ui))
	cli.AddCommand("monitor pause", NewMonitorPauseCmd(ui))
	cli.AddCommand("monitor resume", NewMonitorResumeCmd(ui))
	cli.AddCommand("monitor kill", NewMonitorKillCmd(ui))
	cli.AddCommand("monitor add", NewMonitorAddCmd(ui))
	cli.AddCommand("monitor skip", NewMonitorSkipCmd(ui))
	cli.AddCommand("monitor rebuild", NewMonitorRebuildCmd(ui))
	cli.AddCommand("import", NewImportCmd(ui))
	cli.AddCommand("version", NewVersionCmd(ui))

	exitCode, err := cli.Run(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(exitCode.Code())
}
