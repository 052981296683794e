// Package main is the entry point for animchan, which imports a scene file
// and prints the nodes its animation channels drive.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/Faultbox/animchan/internal/config"
	"github.com/Faultbox/animchan/internal/logger"
	"github.com/Faultbox/animchan/internal/report"
	"github.com/Faultbox/animchan/internal/scene"
)

// Exit codes.
const (
	ExitOK           = 0
	ExitUsage        = 1
	ExitReportFailed = 2
	// ExitImportFailed is -1 as seen by a POSIX shell.
	ExitImportFailed = 255
)

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

// run executes the tool and returns the process exit code. Channel lines
// and user-facing errors go to stderr; logs and the optional summary go to
// stdout.
func run(args []string, stdout, stderr io.Writer) int {
	program := "animchan"
	if len(args) > 0 {
		program = args[0]
		args = args[1:]
	}

	flags, err := config.ParseFlags(program, args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return ExitOK
		}
		return ExitUsage
	}
	if len(flags.Args) < 1 && flags.SaveConfig == "" {
		fmt.Fprintf(stderr, "usage: %s <file>\n", program)
		return ExitUsage
	}

	cfg, err := config.Load(flags)
	if err != nil {
		fmt.Fprintf(stderr, "config error: %v\n", err)
		return ExitUsage
	}

	fileCfg := logger.FileConfig{}
	if cfg.Logging.LogFile != "" {
		fileCfg = logger.DefaultFileConfig(cfg.Logging.LogFile)
	}
	if err := logger.InitWithWriters(cfg.Logging.Level, fileCfg, stdout); err != nil {
		fmt.Fprintf(stderr, "logger error: %v\n", err)
		return ExitUsage
	}
	defer logger.Sync()
	logger.Sugar.Debugf("config: %+v", cfg)

	if flags.SaveConfig != "" {
		if err := cfg.SaveTo(flags.SaveConfig); err != nil {
			fmt.Fprintf(stderr, "config error: %v\n", err)
			return ExitUsage
		}
		logger.Info("config saved", zap.String("path", flags.SaveConfig))
		if len(flags.Args) < 1 {
			return ExitOK
		}
	}

	format, err := scene.ParseFormat(cfg.Import.Format)
	if err != nil {
		fmt.Fprintf(stderr, "config error: %v\n", err)
		return ExitUsage
	}

	im := scene.NewImporter(scene.Options{
		GRFPaths:    cfg.Import.GRFPaths,
		DecodeNames: cfg.Import.DecodeNames,
		Format:      format,
	})
	defer func() {
		if err := im.Close(); err != nil {
			logger.Warn("closing archives", zap.Error(err))
		}
	}()

	s, err := im.Import(flags.Args[0], scene.DefaultFlags)
	if err != nil {
		fmt.Fprintf(stderr, "import failed: %v\n", err)
		return ExitImportFailed
	}
	defer s.Release()

	if cfg.Report.CheckNodes {
		for _, m := range report.MissingNodes(s) {
			logger.Sugar.Warnf("animation %s operates on unknown node %s", m.Animation, m.Node)
		}
	}

	if err := report.Channels(stderr, s); err != nil {
		logger.Error("writing channel report", zap.Error(err))
		return ExitReportFailed
	}
	if cfg.Report.Summary {
		if err := report.Summary(stdout, s); err != nil {
			logger.Error("writing summary", zap.Error(err))
			return ExitReportFailed
		}
	}
	return ExitOK
}
