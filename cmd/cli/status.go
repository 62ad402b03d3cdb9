package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status <request-id>",
	Short: "Shows the lifecycle state of a submitted request",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		var rec struct {
			RequestID       string   `json:"request_id"`
			Mode            string   `json:"mode"`
			Status          string   `json:"status"`
			CreatedAt       float64  `json:"created_at"`
			CompletedAt     *float64 `json:"completed_at"`
			ExecutionTimeMS *float64 `json:"execution_time_ms"`
			Attempts        int      `json:"attempts"`
			LastError       *string  `json:"last_error"`
		}
		if err := getJSON("/requests/"+args[0], &rec); err != nil {
			return err
		}
		if statusJSON {
			return printJSON(rec)
		}

		printStatus(rec.Status)
		fmt.Printf("request_id: %s\n", rec.RequestID)
		fmt.Printf("mode:       %s\n", rec.Mode)
		if rec.ExecutionTimeMS != nil {
			fmt.Printf("exec_time:  %.1fms\n", *rec.ExecutionTimeMS)
		}
		if rec.Attempts > 0 {
			color.Yellow("callback attempts failed: %d", rec.Attempts)
		}
		if rec.LastError != nil {
			fmt.Printf("last_error: %s\n", *rec.LastError)
		}
		return nil
	},
}

func init() { //nolint:gochecknoinits // Cobra's init function for command registration
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output raw JSON")
	rootCmd.AddCommand(statusCmd)
}
