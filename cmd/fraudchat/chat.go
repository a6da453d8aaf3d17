package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"fraudchat/models"
	"fraudchat/services/agent"

	"github.com/spf13/cobra"
)

func runChat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	sess, err := a.service.NewSession(ctx)
	if err != nil {
		return err
	}
	defer a.service.CloseSession(sess.ID)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s\n\n", sess.Greeting)
	fmt.Fprintln(out, "Type a question, or \"exit\" to quit.")

	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		fmt.Fprint(out, "\n> ")
		if !scanner.Scan() {
			break
		}

		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if text == "exit" || text == "quit" {
			break
		}

		msg, err := a.service.SubmitUserTurn(ctx, sess.ID, text)
		if err != nil {
			var turnErr *agent.TurnError
			if errors.As(err, &turnErr) {
				fmt.Fprintf(out, "[%s] The request failed and was discarded: %v\n", turnErr.Category, turnErr.Err)
				continue
			}
			return err
		}

		history, err := a.service.History(sess.ID)
		if err != nil {
			return err
		}
		if err := saveTurnCharts(a.service, sess.ID, history, out); err != nil {
			fmt.Fprintf(out, "Failed to save chart: %v\n", err)
		}

		fmt.Fprintf(out, "\n%s\n", msg.Text())
	}

	return scanner.Err()
}

// saveTurnCharts writes the charts of the latest turn to chartDir.
func saveTurnCharts(service *agent.Service, sessionID string, history []models.AgentMessage, out io.Writer) error {
	for i := len(history) - 1; i >= 0 && history[i].Role != models.RoleUser; i-- {
		for _, result := range history[i].ToolResults() {
			if result.ChartID == "" {
				continue
			}
			img, err := service.Chart(sessionID, result.ChartID)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(chartDir, 0o755); err != nil {
				return fmt.Errorf("failed to create chart directory: %w", err)
			}
			path := filepath.Join(chartDir, result.ChartID+".png")
			if err := os.WriteFile(path, img.PNG, 0o644); err != nil {
				return fmt.Errorf("failed to write chart: %w", err)
			}
			fmt.Fprintf(out, "Chart saved to %s\n", path)
		}
	}
	return nil
}
