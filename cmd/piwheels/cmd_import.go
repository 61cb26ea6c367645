package main

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"flag"
	"io/ioutil"
	"path/filepath"
	"strings"
	"time"

	"github.com/spoke-d/clui"
	"github.com/spoke-d/clui/flagset"

	"github.com/pdtopdog/piwheels/internal/protocol"
	"github.com/pdtopdog/piwheels/pkg/client"
	"github.com/pdtopdog/piwheels/pkg/master/importer"
)

type importCmd struct {
	ui      clui.UI
	flagset *flagset.FlagSet

	address string
	pkg     string
	version string
	abiTag  string
	builtBy string
}

// NewImportCmd creates a Command with sane defaults
func NewImportCmd(ui clui.UI) clui.Command {
	c := &importCmd{
		ui:      ui,
		flagset: flagset.NewFlagSet("import", flag.ExitOnError),
	}
	c.init()
	return c
}

func (c *importCmd) init() {
	c.flagset.StringVar(&c.address, "address", "http://127.0.0.1:8080", "master address")
	c.flagset.StringVar(&c.pkg, "package", "", "package the wheel belongs to")
	c.flagset.StringVar(&c.version, "version", "", "version the wheel was built from")
	c.flagset.StringVar(&c.abiTag, "abi", "", "abi the wheel was built for")
	c.flagset.StringVar(&c.builtBy, "built-by", "import", "builder recorded for the attempt")
}

// UI returns a UI for interaction.
func (c *importCmd) UI() clui.UI {
	return c.ui
}

// FlagSet returns the FlagSet associated with the command. All the flags are
// parsed before running the command.
func (c *importCmd) FlagSet() *flagset.FlagSet {
	return c.flagset
}

// Help should return a long-form help text that includes the command-line
// usage. A brief few sentences explaining the function of the command, and
// the complete list of flags the command accepts.
func (c *importCmd) Help() string {
	return `
Usage:

  import [flags] <wheel-file>

Description:

  Upload an externally produced wheel to the master. The file
  is verified against its hash, installed into the served area
  and recorded like any other successful build.

Example:

  piwheels import --package foo --version 1.0 --abi cp39m \
      foo-1.0-cp39-cp39-linux_armv7l.whl
`
}

// Synopsis should return a one-line, short synopsis of the command.
// This should be short (50 characters of less ideally).
func (c *importCmd) Synopsis() string {
	return "Upload an externally built wheel."
}

// Run should run the actual command with the given CLI instance and
// command-line arguments. It should return the exit status when it is
// finished.
//
// There are a handful of special exit codes that can return documented
// behavioral changes.
func (c *importCmd) Run() clui.ExitCode {
	args := c.flagset.Args()
	if len(args) != 1 {
		return exitWithConfig(c.ui, "expected exactly one wheel file")
	}
	if c.pkg == "" || c.version == "" || c.abiTag == "" {
		return exitWithConfig(c.ui, "package, version and abi are required")
	}

	path := args[0]
	content, err := ioutil.ReadFile(path)
	if err != nil {
		return exit(c.ui, err.Error())
	}
	digest := sha256.Sum256(content)

	filename := filepath.Base(path)
	info := protocol.FileInfo{
		Filename: filename,
		Filesize: int64(len(content)),
		Filehash: hex.EncodeToString(digest[:]),
	}
	parts := strings.Split(strings.TrimSuffix(filename, ".whl"), "-")
	if len(parts) >= 5 {
		info.PackageTag = parts[0]
		info.PackageVersionTag = parts[1]
		info.PyVersionTag = parts[len(parts)-3]
		info.ABITag = parts[len(parts)-2]
		info.PlatformTag = parts[len(parts)-1]
	}

	cli, err := client.New(c.address)
	if err != nil {
		return exitWithConfig(c.ui, err.Error())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	err = cli.Import(ctx, importer.Metadata{
		Package: c.pkg,
		Version: c.version,
		ABITag:  c.abiTag,
		BuiltBy: c.builtBy,
		File:    info,
	}, bytes.NewReader(content), filename)
	if err != nil {
		return exit(c.ui, err.Error())
	}
	c.ui.Info("imported " + filename)
	return clui.ExitCode{}
}
