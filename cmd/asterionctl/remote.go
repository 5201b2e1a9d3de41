package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

// Remote commands talk to a live run's control API.

const defaultAPIAddr = "127.0.0.1:8420"

func apiAddr(cfg Config, override string) string {
	if override != "" {
		return override
	}
	if cfg.API.Listen != "" {
		return cfg.API.Listen
	}
	return defaultAPIAddr
}

func apiCall(cmd *cobra.Command, method, addr, path string) error {
	url := fmt.Sprintf("http://%s%s", addr, path)
	req, err := http.NewRequestWithContext(cmd.Context(), method, url, nil)
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("control api unreachable at %s: %w", addr, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s: %s", resp.Status, apiErr.Error)
		}
		return fmt.Errorf("%s", resp.Status)
	}

	var pretty any
	if err := json.Unmarshal(body, &pretty); err != nil {
		fmt.Fprintln(cmd.OutOrStdout(), string(body))
		return nil
	}
	return printJSON(cmd, pretty)
}

func remoteCmd(use, short, method, pathFmt string, withID bool) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			path := pathFmt
			if withID {
				path = fmt.Sprintf(pathFmt, args[0])
			}
			return apiCall(cmd, method, apiAddr(cfg, addr), path)
		},
	}
	if withID {
		cmd.Args = cobra.ExactArgs(1)
	} else {
		cmd.Args = cobra.NoArgs
	}
	cmd.Flags().StringVar(&addr, "addr", "", "control api address (host:port)")
	return cmd
}

func newStatusCmd() *cobra.Command {
	cmd := remoteCmd("status", "Show the live population and its instances", http.MethodGet, "/api/v1/instances", false)
	return cmd
}

func newKillCmd() *cobra.Command {
	return remoteCmd("kill <instance-id>", "Kill a running instance", http.MethodPost, "/api/v1/instances/%s/kill", true)
}

func newHeadlessCmd() *cobra.Command {
	return remoteCmd("headless <instance-id>", "Toggle an instance's headless mode", http.MethodPost, "/api/v1/instances/%s/headless", true)
}

func newStopCmd() *cobra.Command {
	return remoteCmd("stop", "Stop the live run after draining instances", http.MethodPost, "/api/v1/stop", false)
}
