// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pagewarden Contributors

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/sigil-dev/pagewarden/internal/secrets"
	pwerr "github.com/sigil-dev/pagewarden/pkg/errors"
	"github.com/sigil-dev/pagewarden/pkg/health"
	"github.com/spf13/cobra"
)

// errNotRunning indicates the server refused the connection.
var errNotRunning = errors.New("pagewarden is not running (connection refused)")

// statusClient is the HTTP client used by the status command. Overridden in
// tests.
var statusClient = &http.Client{Timeout: 5 * time.Second}

// statusBody mirrors GET /api/v1/status.
type statusBody struct {
	Status    string `json:"status"`
	Busy      bool   `json:"busy"`
	SessionID string `json:"session_id"`
	Backend   struct {
		Name     string         `json:"name"`
		Location string         `json:"location"`
		Health   health.Metrics `json:"health"`
	} `json:"backend"`
}

func (c *cli) newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the running server's status",
		Args:  cobra.NoArgs,
		RunE:  c.runStatus,
	}

	cmd.Flags().String("address", "", "server address (defaults to networking.listen)")

	return cmd
}

func (c *cli) runStatus(cmd *cobra.Command, _ []string) error {
	addr, _ := cmd.Flags().GetString("address")
	if addr == "" {
		addr = c.v.GetString("networking.listen")
	}
	token, err := secrets.ResolveKeyringURI(secretStoreFactory(), c.v.GetString("networking.api_token"))
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	var body statusBody
	if err := getJSON("http://"+addr+"/api/v1/status", token, &body); err != nil {
		if errors.Is(err, errNotRunning) {
			_, _ = fmt.Fprintf(out, "pagewarden at %s is not running\n", addr)
			return nil
		}
		return err
	}

	busy := "idle"
	if body.Busy {
		busy = "running a task"
	}
	_, _ = fmt.Fprintf(out, "pagewarden at %s: %s, %s\n", addr, body.Status, busy)
	_, _ = fmt.Fprintf(out, "backend: %s (%s)", body.Backend.Name, body.Backend.Location)
	if !body.Backend.Health.Available {
		_, _ = fmt.Fprint(out, errorStyle.Render(" unavailable: "+body.Backend.Health.LastError))
	}
	_, _ = fmt.Fprintf(out, "\nsession: %s\n", body.SessionID)
	return nil
}

// getJSON performs a GET and decodes the JSON response into dest.
func getJSON(url, token string, dest any) error {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return pwerr.Errorf(pwerr.CodeCLIRequestFailure, "building request: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := statusClient.Do(req)
	if err != nil {
		var opErr *net.OpError
		if errors.As(err, &opErr) && opErr.Op == "dial" {
			return errNotRunning
		}
		return pwerr.Errorf(pwerr.CodeCLIRequestFailure, "request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return pwerr.Errorf(pwerr.CodeCLIRequestFailure, "server returned status %d: %s", resp.StatusCode, string(msg))
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return pwerr.Errorf(pwerr.CodeCLIRequestFailure, "invalid response: %w", err)
	}
	return nil
}
