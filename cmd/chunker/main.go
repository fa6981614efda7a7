package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"

	"github.com/arkonballoon/VoiceToDocWeb/internal/cli"
	"github.com/arkonballoon/VoiceToDocWeb/internal/output"
)

func main() {
	if err := run(); err != nil {
		formatter := output.NewFormatter(os.Stderr)
		formatter.Error(err.Error())
		os.Exit(1)
	}
}

func run() error {
	level := new(slog.LevelVar)
	level.Set(slog.LevelWarn)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	deps := &cli.Dependencies{
		Logger:   logger,
		LogLevel: level,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	return cli.NewRootCmd(deps).ExecuteContext(ctx)
}
