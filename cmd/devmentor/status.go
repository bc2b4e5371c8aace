package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/devmentor-ai/devmentor/internal/config"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show DevMentor system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Model", "%s", cfg.Gemini.Model)
	printStatus("Timeout", "%s", cfg.Gemini.Timeout)
	printStatus("Retries", "%d attempts, %s base delay", cfg.Retry.MaxAttempts, cfg.Retry.BaseDelay)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
