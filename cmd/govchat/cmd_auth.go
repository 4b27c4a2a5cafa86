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
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/AleutianAI/govchat/pkg/access"
	"github.com/AleutianAI/govchat/pkg/api"
	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
)

func (a *app) loginCmd() *cobra.Command {
	var (
		fromStdin bool
		noVerify  bool
	)
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store the API token used by chat, ask and history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			token, err := a.readToken(fromStdin)
			if err != nil {
				return err
			}
			return a.runLogin(cmd.Context(), token, !noVerify)
		},
	}
	cmd.Flags().BoolVar(&fromStdin, "stdin", false, "read the token from standard input")
	cmd.Flags().BoolVar(&noVerify, "no-verify", false, "do not check the token against the server")
	return cmd
}

func (a *app) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored API token",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			if err := a.tokens.Clear(); err != nil {
				return err
			}
			a.printer.Success("Logged out.")
			return nil
		},
	}
}

// readToken reads one line from stdin, or prompts with a masked input
// when attached to a terminal.
func (a *app) readToken(fromStdin bool) (string, error) {
	if fromStdin {
		line, err := bufio.NewReader(a.in).ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("read token from stdin: %w", err)
		}
		return strings.TrimSpace(line), nil
	}
	if a.printer.Plain() {
		return "", errors.New("no terminal for the prompt: pipe the token with --stdin")
	}

	var token string
	err := huh.NewForm(huh.NewGroup(
		huh.NewInput().
			Title("API token").
			Description("Paste the token from your dashboard profile.").
			EchoMode(huh.EchoModePassword).
			Validate(func(s string) error {
				if strings.TrimSpace(s) == "" {
					return errors.New("token is required")
				}
				return nil
			}).
			Value(&token),
	)).Run()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(token), nil
}

// runLogin saves token and, when verify is set, reports the features it
// grants. A token the server rejects stays saved but fails the command.
func (a *app) runLogin(ctx context.Context, token string, verify bool) error {
	if err := a.tokens.Save(token); err != nil {
		return err
	}
	if !verify {
		a.printer.Success("Token saved.")
		return nil
	}

	client, err := a.apiClient()
	if err != nil {
		return err
	}
	caps, err := client.Capabilities(ctx)
	switch {
	case api.IsUnauthorized(err):
		a.printer.Error("The server rejected this token.")
		return err
	case err != nil:
		a.printer.Warning("Token saved, but the server could not be reached to verify it.")
		a.logger.Warn("token verification failed", "error", err)
		return nil
	}

	a.printer.Success("Logged in. Features: " + featureList(caps))
	return nil
}

func featureList(caps access.Capabilities) string {
	features := caps.Features()
	if len(features) == 0 {
		return "none"
	}
	names := make([]string, len(features))
	for i, f := range features {
		names[i] = string(f)
	}
	return strings.Join(names, ", ")
}
