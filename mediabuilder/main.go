// Copyright (c) The Debian Media Tools Authors.
// Licensed under the MIT License.

// Tool to build bootable installation media.

package main

import (
	"context"
	"log"
	"maps"
	"path/filepath"

	"github.com/alecthomas/kong"
	"github.com/osbuilders/debian-media-tools/internal/exekong"
	"github.com/osbuilders/debian-media-tools/internal/file"
	"github.com/osbuilders/debian-media-tools/internal/logger"
	"github.com/osbuilders/debian-media-tools/internal/ptrutils"
	"github.com/osbuilders/debian-media-tools/internal/telemetry"
	"github.com/osbuilders/debian-media-tools/mediabuilderapi"
	"github.com/osbuilders/debian-media-tools/pkg/mediabuilderlib"
)

type BuildCmd struct {
	BuildDir           string `name:"build-dir" help:"Directory to run the build out of." required:""`
	ConfigFile         string `name:"config-file" help:"Path of the media build config file." required:""`
	SessionRoot        string `name:"session-root" help:"Root filesystem tree to customize and ship." required:""`
	PopulatorProgram   string `name:"populator-program" help:"Customization program executed inside the session root." required:""`
	PopulatorConfigDir string `name:"populator-config-dir" help:"Configuration directory staged next to the populator program."`
	OutputDir          string `name:"output-dir" help:"Directory to place the finished medium in." required:""`
}

type CleanCmd struct {
	BuildDir    string `name:"build-dir" help:"Build directory to remove." required:""`
	SessionRoot string `name:"session-root" help:"Session root to detach stale mounts from." required:""`
}

type MediaBuilderCmd struct {
	Build BuildCmd `cmd:"" help:"Build a bootable medium."`
	Clean CleanCmd `cmd:"" help:"Remove a build directory, detaching stale session mounts first."`
	exekong.LogFlags
	DisableTelemetry bool `name:"disable-telemetry" help:"Disable telemetry collection."`
}

func main() {
	ctx := context.Background()

	cli := &MediaBuilderCmd{}

	vars := kong.Vars{
		"version": mediabuilderlib.ToolVersion,
	}
	maps.Copy(vars, exekong.KongVars)

	parsedCli := kong.Parse(cli,
		vars,
		kong.HelpOptions{
			Compact:   true,
			FlagsLast: true,
		},
		kong.UsageOnError())

	logger.InitBestEffort(ptrutils.PtrTo(cli.LogFlags.AsLoggerFlags()))

	err := telemetry.InitTelemetry(cli.DisableTelemetry, mediabuilderlib.ToolVersion)
	if err != nil {
		logger.Log.Warnf("Failed to initialize telemetry: %v", err)
	}
	defer func() {
		err := telemetry.ShutdownTelemetry(ctx)
		if err != nil {
			logger.Log.Warnf("Failed to shut down telemetry: %v", err)
		}
	}()

	switch parsedCli.Command() {
	case "build":
		err = runBuild(ctx, &cli.Build)
	case "clean":
		err = runClean(&cli.Clean)
	}
	if err != nil {
		log.Fatalf("media build failed:\n%v", err)
	}
}

func runBuild(ctx context.Context, cmd *BuildCmd) error {
	config := &mediabuilderapi.BuildConfig{}
	err := mediabuilderapi.UnmarshalAndValidateYamlFile(cmd.ConfigFile, config)
	if err != nil {
		return err
	}

	// Populator paths may be given relative to the config file.
	configDir := filepath.Dir(cmd.ConfigFile)
	populatorProgram := file.GetAbsPathWithBase(configDir, cmd.PopulatorProgram)
	populatorConfigDir := cmd.PopulatorConfigDir
	if populatorConfigDir != "" {
		populatorConfigDir = file.GetAbsPathWithBase(configDir, populatorConfigDir)
	}

	options := &mediabuilderlib.BuildOptions{
		BuildDir:           cmd.BuildDir,
		OutputDir:          cmd.OutputDir,
		SessionRootDir:     cmd.SessionRoot,
		PopulatorProgram:   populatorProgram,
		PopulatorConfigDir: populatorConfigDir,
	}

	_, err = mediabuilderlib.Build(ctx, config, options)
	return err
}

func runClean(cmd *CleanCmd) error {
	return mediabuilderlib.Clean(&mediabuilderlib.BuildOptions{
		BuildDir:       cmd.BuildDir,
		SessionRootDir: cmd.SessionRoot,
	})
}
