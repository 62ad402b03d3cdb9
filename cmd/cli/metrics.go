package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var metricsJSON bool

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Shows queue and lifecycle metrics from the server",
	RunE: func(_ *cobra.Command, _ []string) error {
		var metrics struct {
			TotalRequests int                `json:"total_requests"`
			ByMode        map[string]int     `json:"by_mode"`
			ByStatus      map[string]int     `json:"by_status"`
			AvgExecMS     map[string]float64 `json:"avg_execution_time_ms"`
			Queue         struct {
				CurrentSize    int   `json:"current_size"`
				MaxSize        int   `json:"max_size"`
				TotalEnqueued  int64 `json:"total_enqueued"`
				TotalProcessed int64 `json:"total_processed"`
			} `json:"queue"`
		}
		if err := getJSON("/metrics", &metrics); err != nil {
			return err
		}
		if metricsJSON {
			return printJSON(metrics)
		}

		color.Cyan("requests")
		fmt.Printf("  total: %d\n", metrics.TotalRequests)
		for mode, count := range metrics.ByMode {
			avg := metrics.AvgExecMS[mode]
			fmt.Printf("  %s: %d (avg %.1fms)\n", mode, count, avg)
		}
		for status, count := range metrics.ByStatus {
			fmt.Printf("  %s: %d\n", status, count)
		}

		color.Cyan("queue")
		fmt.Printf("  depth:     %d/%d\n", metrics.Queue.CurrentSize, metrics.Queue.MaxSize)
		fmt.Printf("  enqueued:  %d\n", metrics.Queue.TotalEnqueued)
		fmt.Printf("  processed: %d\n", metrics.Queue.TotalProcessed)
		return nil
	},
}

func init() { //nolint:gochecknoinits // Cobra's init function for command registration
	metricsCmd.Flags().BoolVar(&metricsJSON, "json", false, "Output raw JSON")
	rootCmd.AddCommand(metricsCmd)
}
