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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/AleutianAI/govchat/pkg/chatstream"
	"github.com/AleutianAI/govchat/pkg/ux"
	"github.com/AleutianAI/govchat/pkg/validation"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func (a *app) historyCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "history [session-id]",
		Short: "Print the stored turns of a session",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID := a.sessionID
			if len(args) == 1 {
				sessionID = args[0]
			}
			if sessionID == "" {
				sessionID = a.cfg.Chat.DefaultSession
			}
			if sessionID == "" {
				return errors.New("which session? pass a session id or --session")
			}
			if err := validation.ValidateSessionID(sessionID); err != nil {
				return err
			}
			return a.runHistory(cmd.Context(), sessionID, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the turns as JSON")
	return cmd
}

func (a *app) runHistory(ctx context.Context, sessionID string, asJSON bool) error {
	if _, ok := a.tokens.Token(); !ok {
		return errNotLoggedIn
	}
	client, err := a.apiClient()
	if err != nil {
		return err
	}
	msgs, err := client.AllMessages(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load history of %s: %w", sessionID, err)
	}

	if asJSON {
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(msgs)
	}
	printHistory(a.out, sessionID, msgs, a.printer.Plain())
	return nil
}

// historyColors are the fatih/color attributes of the history listing.
type historyColors struct {
	header, user, assistant, muted, failure *color.Color
}

func newHistoryColors(plain bool) historyColors {
	c := historyColors{
		header:    color.New(color.Bold),
		user:      color.New(color.FgCyan, color.Bold),
		assistant: color.New(color.FgGreen, color.Bold),
		muted:     color.New(color.Faint),
		failure:   color.New(color.FgRed),
	}
	for _, col := range []*color.Color{c.header, c.user, c.assistant, c.muted, c.failure} {
		if plain {
			col.DisableColor()
		} else {
			col.EnableColor()
		}
	}
	return c
}

// printHistory writes one block per turn, oldest first.
func printHistory(w io.Writer, sessionID string, msgs []chatstream.Message, plain bool) {
	c := newHistoryColors(plain)

	c.header.Fprintf(w, "Session %s: %s %s\n", sessionID, humanize.Comma(int64(len(msgs))), plural(len(msgs), "turn", "turns"))
	if len(msgs) == 0 {
		c.muted.Fprintln(w, "No stored turns.")
		return
	}

	for i, m := range msgs {
		fmt.Fprintln(w)
		c.user.Fprint(w, "You")
		if !m.CreatedAt.IsZero() {
			c.muted.Fprintf(w, "  %s", humanize.Time(m.CreatedAt))
		}
		fmt.Fprintf(w, "\n%s\n", m.Query)

		c.assistant.Fprintln(w, "Assistant")
		fmt.Fprintln(w, strings.TrimSpace(m.Response))
		if m.Error != "" {
			c.failure.Fprintln(w, "✗ "+m.Error)
		}
		if m.ShowForm {
			c.muted.Fprintln(w, "(assessment form requested)")
		}
		for _, rec := range m.Metadata {
			c.muted.Fprintln(w, "  • "+ux.FormatCitation(rec))
		}
		if i == len(msgs)-1 && !m.FinishedAt.IsZero() && !m.CreatedAt.IsZero() {
			c.muted.Fprintf(w, "\nLast answer took %s\n", m.FinishedAt.Sub(m.CreatedAt).Round(time.Millisecond))
		}
	}
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
