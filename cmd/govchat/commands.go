// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/AleutianAI/govchat/cmd/govchat/config"
	"github.com/AleutianAI/govchat/pkg/api"
	"github.com/AleutianAI/govchat/pkg/auth"
	"github.com/AleutianAI/govchat/pkg/chatstream"
	"github.com/AleutianAI/govchat/pkg/logging"
	"github.com/AleutianAI/govchat/pkg/ux"
	"github.com/AleutianAI/govchat/pkg/validation"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// errNotLoggedIn is returned by commands that need a token.
var errNotLoggedIn = errors.New("not logged in: run `govchat login` or set " + auth.EnvToken)

// app carries the state shared by all commands of one invocation.
type app struct {
	in     io.Reader
	out    io.Writer
	errOut io.Writer

	// Global flags
	configPath string
	logLevel   string
	sessionID  string
	plain      bool

	cfg     config.GovchatConfig
	logger  *logging.Logger
	printer *ux.Printer
	tokens  *auth.TokenStore
}

func newRootCmd(in io.Reader, out, errOut io.Writer) *cobra.Command {
	a := &app{in: in, out: out, errOut: errOut}

	root := &cobra.Command{
		Use:   "govchat",
		Short: "Chat with the compliance assistant from your terminal",
		Long: `govchat streams answers from the compliance assistant, keeps your
session history and runs a local development hub for offline work.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(*cobra.Command, []string) { a.teardown() },
	}
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "config file (default ~/.govchat/govchat.yaml)")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.StringVar(&a.sessionID, "session", "", "session id (default: chat.default_session or a new id)")
	flags.BoolVar(&a.plain, "plain", false, "plain output without colors or animation")

	root.AddCommand(
		a.chatCmd(),
		a.askCmd(),
		a.loginCmd(),
		a.logoutCmd(),
		a.historyCmd(),
		a.serveCmd(),
	)
	return root
}

// setup loads configuration, logging, output and the token store.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.configPath, a.errOut)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	a.cfg = cfg

	if a.sessionID != "" {
		id, err := validation.SanitizeSessionID(a.sessionID)
		if err != nil {
			return fmt.Errorf("--session: %w", err)
		}
		a.sessionID = id
	}

	a.logger = logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.Dir,
		Service: "govchat",
		JSON:    cfg.Logging.JSON,
		// The TUI owns the terminal; logs go to the file only.
		Quiet:  cmd.Name() == "chat",
		Output: a.errOut,
	})
	if path := a.logger.FilePath(); path != "" {
		a.logger.Debug("logging to file", "path", path, "command", cmd.Name())
	}

	plain := a.plain || !isTerminal(a.out)
	a.printer = ux.NewPrinter(a.out, a.errOut, plain, ux.ParseTheme(cfg.UI.Theme))

	a.tokens = auth.NewTokenStore(config.ExpandPath(cfg.Auth.TokenFile), a.logger.Slog())
	if err := a.tokens.Load(); err != nil {
		return err
	}
	return nil
}

func (a *app) teardown() {
	if a.logger != nil {
		_ = a.logger.Close()
	}
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && ux.IsTerminal(f.Fd())
}

// resolveSession picks the --session flag, the configured default or a
// fresh id.
func (a *app) resolveSession() string {
	if a.sessionID != "" {
		return a.sessionID
	}
	if a.cfg.Chat.DefaultSession != "" {
		return a.cfg.Chat.DefaultSession
	}
	return uuid.New().String()
}

func (a *app) apiClient() (*api.Client, error) {
	return api.NewClient(api.Config{
		BaseURL:        a.cfg.Server.APIURL,
		Tokens:         a.tokens,
		PageSize:       a.cfg.Chat.HistoryPageSize,
		PagesPerSecond: a.cfg.Chat.HistoryRPS,
	})
}

func (a *app) newController(anchor chatstream.ScrollAnchor, notifier chatstream.Notifier) (*chatstream.Controller, error) {
	return chatstream.New(chatstream.Options{
		Endpoint:       a.cfg.Server.WebSocketURL,
		IdleWindow:     a.cfg.Chat.IdleWindow.Std(),
		RoutingMarkers: a.cfg.Chat.RoutingMarkers,
		Anchor:         anchor,
		Notifier:       notifier,
		Logger:         a.logger.Slog(),
	})
}

// errSessionClosed is returned while waiting on a session that lost its
// connection.
var errSessionClosed = errors.New("session closed")

// waitSnapshot blocks until cond holds for the controller's snapshot, the
// connection closes, or ctx is done.
func waitSnapshot(ctx context.Context, ctrl *chatstream.Controller, cond func(chatstream.Snapshot) bool) (chatstream.Snapshot, error) {
	snap := ctrl.Snapshot()
	for {
		if cond(snap) {
			return snap, nil
		}
		if snap.State == chatstream.StateClosed || snap.State == chatstream.StateUnconnected {
			return snap, errSessionClosed
		}
		select {
		case <-ctx.Done():
			return snap, fmt.Errorf("waiting for session: %w", ctx.Err())
		case <-ctrl.Updates():
			snap = ctrl.Snapshot()
		}
	}
}
