// Package menocli provides the boilerplate shared by every meno realtime
// binary: service identity, common flags, structured logging and metrics.
//
// Every service runs either as a Lambda function (the default) or as a long
// lived process when --console is set.
package menocli

import (
	"fmt"
	"runtime/debug"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
)

func App(service Service, action cli.ActionFunc, flags ...cli.Flag) *cli.App {
	return &cli.App{
		Name:                 service.Name,
		Usage:                fmt.Sprintf("%v realtime service", service.Name),
		Version:              service.Version,
		EnableBashCompletion: true,
		Before:               InitCommonOpts,
		Action:               action,
		Flags:                flags,
	}
}

// InitCommonOpts applies CommonOpts that have process-wide effect once flags
// have been parsed.
func InitCommonOpts(_ *cli.Context) error {
	if CommonOpts.LogLevel == "" {
		return nil
	}
	level, err := zerolog.ParseLevel(CommonOpts.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", CommonOpts.LogLevel, err)
	}
	zerolog.SetGlobalLevel(level)
	return nil
}

func CommitHash() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" {
				return setting.Value
			}
		}
		return info.Main.Version
	}
	return "unknown"
}
