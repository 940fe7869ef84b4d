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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianRecycler/pkg/logging"
	"github.com/AleutianAI/AleutianRecycler/services/recycler"
	"github.com/AleutianAI/AleutianRecycler/services/recycler/config"
	"github.com/AleutianAI/AleutianRecycler/services/recycler/routes"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "recycler",
		Short:        "Replace this instance with a fresh one when it reports itself unhealthy",
		SilenceUsage: true,
	}
	root.AddCommand(newServeCmd(), newTriggerCmd(), newVersionCmd())
	return root
}

// =============================================================================
// serve
// =============================================================================

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the recycler service until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to recycler.yaml (RECYCLER_* variables override it)")
	return cmd
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Log)
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := recycler.New(ctx, cfg, recycler.Options{
		ConfigPath: configPath,
		Version:    version,
	})
	if err != nil {
		return err
	}
	return svc.Run(ctx)
}

func newLogger(cfg config.LogConfig) *logging.Logger {
	level, ok := logging.ParseLevel(cfg.Level)
	logger := logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Dir,
		Service: "recycler",
		JSON:    cfg.JSON,
		Auto:    true,
	})
	if !ok {
		logger.Warn("unknown log level, using info", "level", cfg.Level)
	}
	return logger
}

// =============================================================================
// trigger
// =============================================================================

func newTriggerCmd() *cobra.Command {
	var (
		addr    string
		reason  string
		token   string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Ask a running recycler to replace its instance",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			resp, err := triggerRecycle(ctx, http.DefaultClient, addr, token, reason)
			if err != nil {
				return err
			}
			if resp.RunID != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "recycle triggered (run %s)\n", resp.RunID)
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "recycle request ignored: instance id unknown")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "http://localhost:8090", "admin API base URL")
	cmd.Flags().StringVarP(&reason, "reason", "r", "", "why the instance should be replaced")
	cmd.Flags().StringVar(&token, "token", os.Getenv("RECYCLER_ADMIN_TOKEN"), "bearer token for the admin API")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "request timeout")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

// triggerRecycle posts a recycle request to the admin API at addr. An
// empty token sends no Authorization header.
func triggerRecycle(ctx context.Context, client *http.Client, addr, token, reason string) (routes.RecycleResponse, error) {
	var out routes.RecycleResponse

	body, err := json.Marshal(routes.RecycleRequest{Reason: reason})
	if err != nil {
		return out, err
	}
	url := strings.TrimRight(addr, "/") + "/v1/recycle"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return out, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return out, fmt.Errorf("recycle request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode != http.StatusAccepted {
		return out, fmt.Errorf("recycle request to %s: status %d: %s", url, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("decode recycle response: %w", err)
	}
	return out, nil
}

// =============================================================================
// version
// =============================================================================

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the recycler version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "recycler "+version)
		},
	}
}
