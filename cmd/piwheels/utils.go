package main

import (
	libjson "encoding/json"

	"github.com/pkg/errors"
	"github.com/spoke-d/clui"
	yaml "gopkg.in/yaml.v2"
)

// Runtime failures exit 1, configuration errors exit 2, clean
// shutdowns exit 0.
const (
	exitRuntime = clui.Errno(1)
	exitConfig  = clui.Errno(2)
)

func exit(ui clui.UI, err string) clui.ExitCode {
	ui.Error(err)
	return clui.ExitCode{
		Code: exitRuntime,
	}
}

func exitWithConfig(ui clui.UI, err string) clui.ExitCode {
	ui.Error(err)
	return clui.ExitCode{
		Code: exitConfig,
	}
}

func outputContent(format string, value interface{}) ([]byte, error) {
	switch format {
	case "yaml":
		bytes, err := yaml.Marshal(value)
		return bytes, errors.WithStack(err)
	case "json":
		bytes, err := libjson.MarshalIndent(value, "", "\t")
		return bytes, errors.WithStack(err)
	default:
		return nil, errors.Errorf("unexpected format %q", format)
	}
}

func contains(a []string, b string) bool {
	for _, v := range a {
		if v == b {
			return true
		}
	}
	return false
}
