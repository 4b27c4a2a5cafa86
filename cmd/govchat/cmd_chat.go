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

	"github.com/AleutianAI/govchat/pkg/access"
	"github.com/AleutianAI/govchat/pkg/api"
	"github.com/AleutianAI/govchat/pkg/chatstream"
	"github.com/AleutianAI/govchat/pkg/ux"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

func (a *app) chatCmd() *cobra.Command {
	var (
		collection string
		fullScreen bool
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runChat(cmd.Context(), collection, fullScreen || a.cfg.UI.FullScreen)
		},
	}
	cmd.Flags().StringVar(&collection, "collection", "", "attach a document collection to every query")
	cmd.Flags().BoolVar(&fullScreen, "full-screen", false, "start in the alternate screen")
	return cmd
}

// chatSession is everything the chat screen needs before it starts.
type chatSession struct {
	sessionID string
	ctrl      *chatstream.Controller
	state     *ux.AppState
	toasts    *ux.ToastQueue
	model     ux.ChatModel
}

// prepareChat loads permissions and history and builds the controller and
// the model. The session is not opened yet.
func (a *app) prepareChat(ctx context.Context, collection string, fullScreen bool) (*chatSession, error) {
	state := ux.NewAppState(ux.ParseTheme(a.cfg.UI.Theme), fullScreen)
	if a.printer.Plain() {
		state.SetInteractive(false)
	}
	anchor := ux.NewViewportAnchor()
	toasts := ux.NewToastQueue(ux.DefaultToastTTL, nil)

	ctrl, err := a.newController(anchor, toasts)
	if err != nil {
		return nil, err
	}

	caps := a.loadCapabilities(ctx, toasts)
	sessionID := a.resolveSession()
	if caps.Allows(access.FeatureHistory, access.ActionRead) {
		a.seedHistory(ctx, ctrl, sessionID, toasts)
	}

	model := ux.NewChatModel(ux.ChatConfig{
		Session:      ctrl,
		State:        state,
		Anchor:       anchor,
		Toasts:       toasts,
		Capabilities: caps,
		CollectionID: collection,
		Title:        "govchat · " + sessionID,
	})
	return &chatSession{
		sessionID: sessionID,
		ctrl:      ctrl,
		state:     state,
		toasts:    toasts,
		model:     model,
	}, nil
}

// loadCapabilities falls back to plain chat when the server cannot be
// asked, and to nothing when the token is missing or rejected.
func (a *app) loadCapabilities(ctx context.Context, toasts *ux.ToastQueue) access.Capabilities {
	client, err := a.apiClient()
	if err != nil {
		a.logger.Warn("api client unavailable", "error", err)
		return access.Default()
	}
	caps, err := client.Capabilities(ctx)
	switch {
	case err == nil:
		return caps
	case errors.Is(err, api.ErrNoToken):
		toasts.Notify("Not logged in. Run govchat login.")
		return access.Capabilities{}
	case api.IsUnauthorized(err):
		toasts.Notify("Your token was rejected. Run govchat login.")
		return access.Capabilities{}
	default:
		a.logger.Warn("permissions unavailable, assuming chat only", "error", err)
		return access.Default()
	}
}

func (a *app) seedHistory(ctx context.Context, ctrl *chatstream.Controller, sessionID string, toasts *ux.ToastQueue) {
	client, err := a.apiClient()
	if err != nil {
		return
	}
	msgs, err := client.AllMessages(ctx, sessionID)
	if err != nil {
		a.logger.Warn("history unavailable", "session_id", sessionID, "error", err)
		toasts.Notify("Could not load earlier messages.")
		return
	}
	ctrl.Seed(msgs)
	a.logger.Info("history seeded", "session_id", sessionID, "messages", len(msgs))
}

// open dials the session in the background so the screen shows the
// connecting state instead of blocking before the first frame.
func (a *app) open(ctx context.Context, s *chatSession) {
	go func() {
		token, _ := a.tokens.Token()
		err := s.ctrl.Open(ctx, s.sessionID, token)
		switch {
		case err == nil:
		case errors.Is(err, chatstream.ErrMissingToken):
			s.toasts.Notify("Not logged in. Run govchat login.")
		default:
			s.toasts.Notify(fmt.Sprintf("Could not connect: %v", err))
		}
	}()
}

func (a *app) runChat(ctx context.Context, collection string, fullScreen bool) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		if err := a.tokens.Watch(ctx); err != nil {
			a.logger.Warn("token watch stopped", "error", err)
		}
	}()

	s, err := a.prepareChat(ctx, collection, fullScreen)
	if err != nil {
		return err
	}
	defer s.ctrl.Close()
	a.open(ctx, s)

	opts := []tea.ProgramOption{
		tea.WithContext(ctx),
		tea.WithInput(a.in),
		tea.WithOutput(a.out),
	}
	if s.state.FullScreen() {
		opts = append(opts, tea.WithAltScreen())
	}
	if _, err := tea.NewProgram(s.model, opts...).Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("chat screen: %w", err)
	}
	a.logger.Info("chat ended", "session_id", s.sessionID)
	return nil
}
