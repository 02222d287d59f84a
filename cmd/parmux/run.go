package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/log"
	"golang.org/x/term"

	"github.com/paulrobello/parmux/internal/app"
	"github.com/paulrobello/parmux/internal/config"
	"github.com/paulrobello/parmux/internal/control"
)

// setup loads configuration and builds the logger, applying flag
// overrides on top of the file.
func setup() (*config.Config, *log.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load config, using defaults: %v\n", err)
		cfg = config.Default()
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFile != "" {
		cfg.Log.File = logFile
	}

	out := os.Stderr
	if cfg.Log.File != "" {
		f, err := os.OpenFile(cfg.Log.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		out = f
	}
	logger := log.NewWithOptions(out, log.Options{
		ReportTimestamp: true,
		Prefix:          "parmux",
	})
	level, err := log.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = log.WarnLevel
	}
	logger.SetLevel(level)
	return cfg, logger, nil
}

func runLocal(cfg *config.Config, logger *log.Logger) error {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return fmt.Errorf("parmux needs a terminal")
	}
	return runProgram(app.New(cfg, logger))
}

func runAttach(cfg *config.Config, logger *log.Logger, session string) error {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return fmt.Errorf("parmux needs a terminal")
	}

	sess, err := control.Connect(session, control.Options{
		ReplyTimeout: time.Duration(cfg.Session.ReplyTimeoutSec) * time.Second,
		Logger:       logger,
	})
	if err != nil {
		return fmt.Errorf("failed to attach to %q: %w", session, err)
	}

	w := app.New(cfg, logger)
	w.Attach(sess)
	return runProgram(w)
}

func runProgram(w *app.Workspace) error {
	p := tea.NewProgram(
		w,
		tea.WithFPS(60),
		tea.WithoutSignalHandler(),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		p.Send(tea.QuitMsg{})
	}()

	finalModel, err := p.Run()
	if final, ok := finalModel.(*app.Workspace); ok {
		final.Cleanup()
	}
	if err != nil {
		return fmt.Errorf("program error: %w", err)
	}
	return nil
}

// runList attaches briefly, asks for the session list and prints it.
func runList(cfg *config.Config, logger *log.Logger) error {
	sess, err := control.Connect("", control.Options{
		ReplyTimeout: time.Duration(cfg.Session.ReplyTimeoutSec) * time.Second,
		Logger:       logger,
	})
	if err != nil {
		return fmt.Errorf("failed to reach the server: %w", err)
	}
	defer func() { _ = sess.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	reply, err := sess.Send(ctx, control.ListSessions())
	if err != nil {
		return fmt.Errorf("list-sessions: %w", err)
	}
	for _, line := range reply.Lines {
		fmt.Println(line)
	}
	return nil
}
