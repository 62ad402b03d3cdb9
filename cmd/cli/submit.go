package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	submitOperation  string
	submitComplexity int
	submitData       string
	submitAsync      bool
	submitCallback   string
	submitJSON       bool
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submits a unit of work to the server",
	Long: `Submits a work request either synchronously (the result is returned inline)
or asynchronously (--async, the outcome is delivered to --callback-url).`,
	RunE: func(_ *cobra.Command, _ []string) error {
		data := map[string]any{}
		if submitData != "" {
			if err := json.Unmarshal([]byte(submitData), &data); err != nil {
				return fmt.Errorf("invalid --data JSON: %w", err)
			}
		}

		payload := map[string]any{
			"operation":  submitOperation,
			"complexity": submitComplexity,
			"data":       data,
		}

		if submitAsync {
			if submitCallback == "" {
				return fmt.Errorf("--callback-url is required with --async")
			}
			var ack struct {
				RequestID string `json:"request_id"`
				Status    string `json:"status"`
				Message   string `json:"message"`
			}
			err := postJSON("/async", map[string]any{
				"payload":      payload,
				"callback_url": submitCallback,
			}, &ack)
			if err != nil {
				return err
			}
			if submitJSON {
				return printJSON(ack)
			}
			color.Green("accepted")
			fmt.Printf("request_id: %s\n", ack.RequestID)
			fmt.Printf("message:    %s\n", ack.Message)
			return nil
		}

		var outcome struct {
			RequestID       string         `json:"request_id"`
			Status          string         `json:"status"`
			Result          map[string]any `json:"result"`
			Error           *string        `json:"error"`
			ExecutionTimeMS float64        `json:"execution_time_ms"`
		}
		if err := postJSON("/sync", map[string]any{"payload": payload}, &outcome); err != nil {
			return err
		}
		if submitJSON {
			return printJSON(outcome)
		}

		printStatus(outcome.Status)
		fmt.Printf("request_id: %s\n", outcome.RequestID)
		fmt.Printf("exec_time:  %.1fms\n", outcome.ExecutionTimeMS)
		if outcome.Error != nil {
			fmt.Printf("error:      %s\n", *outcome.Error)
		}
		if outcome.Result != nil {
			fmt.Println("result:")
			return printJSON(outcome.Result)
		}
		return nil
	},
}

func printStatus(status string) {
	switch status {
	case "done":
		color.Green(status)
	case "failed":
		color.Red(status)
	case "processing":
		color.Yellow(status)
	default:
		fmt.Println(status)
	}
}

func printJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func init() { //nolint:gochecknoinits // Cobra's init function for command registration
	submitCmd.Flags().StringVarP(&submitOperation, "operation", "o", "hash", "Operation to execute (hash|prime|matrix|transform)")
	submitCmd.Flags().IntVarP(&submitComplexity, "complexity", "c", 1, "Work complexity, 1 (fast) to 10 (slow)")
	submitCmd.Flags().StringVarP(&submitData, "data", "d", "", "Operation-specific parameters as JSON")
	submitCmd.Flags().BoolVar(&submitAsync, "async", false, "Submit via the queued asynchronous path")
	submitCmd.Flags().StringVar(&submitCallback, "callback-url", "", "Callback target for the async outcome")
	submitCmd.Flags().BoolVar(&submitJSON, "json", false, "Output raw JSON")
	rootCmd.AddCommand(submitCmd)
}
