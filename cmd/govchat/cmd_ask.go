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
	"strings"
	"time"

	"github.com/AleutianAI/govchat/pkg/chatstream"
	"github.com/AleutianAI/govchat/pkg/ux"
	"github.com/spf13/cobra"
)

// askWidth is the wrap width of one-shot answers.
const askWidth = 100

func (a *app) askCmd() *cobra.Command {
	var (
		timeout time.Duration
		opts    chatstream.SubmitOptions
	)
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask one question and print the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runAsk(cmd.Context(), strings.Join(args, " "), opts, timeout)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "give up after this long")
	cmd.Flags().StringVar(&opts.CollectionID, "collection", "", "attach a document collection")
	cmd.Flags().BoolVar(&opts.BuildScore, "build-score", false, "ask the assistant to build an assessment score")
	cmd.Flags().BoolVar(&opts.AssessmentRAG, "assessment", false, "answer from your assessment answers")
	return cmd
}

// runAsk opens a session, submits one query and prints the finished
// message. A turn that ends with an error is returned as an error.
func (a *app) runAsk(ctx context.Context, question string, opts chatstream.SubmitOptions, timeout time.Duration) error {
	token, ok := a.tokens.Token()
	if !ok {
		return errNotLoggedIn
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ctrl, err := a.newController(nil, nil)
	if err != nil {
		return err
	}
	defer ctrl.Close()

	spin := ux.NewSpinner(a.printer, "Connecting…")
	spin.Start()
	defer spin.Stop()

	sessionID := a.resolveSession()
	if err := ctrl.Open(ctx, sessionID, token); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	if _, err := waitSnapshot(ctx, ctrl, chatstream.Snapshot.CanSubmit); err != nil {
		return fmt.Errorf("session %s was not validated: %w", sessionID, err)
	}

	if !ctrl.Submit(question, opts) {
		return errors.New("the query was not accepted")
	}
	spin.UpdateMessage("Waiting for the answer…")

	snap, err := waitSnapshot(ctx, ctrl, func(s chatstream.Snapshot) bool {
		return len(s.Messages) > 0 && !s.Loading()
	})
	if err != nil {
		return err
	}
	spin.Stop()

	msg := snap.Messages[len(snap.Messages)-1]
	r := ux.NewRenderer(ux.ParseTheme(a.cfg.UI.Theme), askWidth, a.printer.Plain())
	fmt.Fprintln(a.out, r.RenderMessage(msg))
	a.logger.Info("ask finished",
		"session_id", sessionID,
		"citations", len(msg.Metadata),
		"error", msg.Error != "")

	if msg.Error != "" {
		return fmt.Errorf("turn failed: %s", msg.Error)
	}
	return nil
}
