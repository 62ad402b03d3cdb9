package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var (
	listMode   string
	listStatus string
	listLimit  int
	listOffset int
	listJSON   bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Lists submitted requests with optional filters",
	RunE: func(_ *cobra.Command, _ []string) error {
		path := fmt.Sprintf("/requests?limit=%d&offset=%d", listLimit, listOffset)
		if listMode != "" {
			path += "&mode=" + listMode
		}
		if listStatus != "" {
			path += "&status=" + listStatus
		}

		var page struct {
			Total    int `json:"total"`
			Requests []struct {
				RequestID string   `json:"request_id"`
				Mode      string   `json:"mode"`
				Status    string   `json:"status"`
				CreatedAt float64  `json:"created_at"`
				ExecMS    *float64 `json:"execution_time_ms"`
			} `json:"requests"`
		}
		if err := getJSON(path, &page); err != nil {
			return err
		}
		if listJSON {
			return printJSON(page)
		}

		if len(page.Requests) == 0 {
			fmt.Println("no requests found")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "REQUEST ID\tMODE\tSTATUS\tCREATED\tEXEC TIME")
		for _, req := range page.Requests {
			execTime := "-"
			if req.ExecMS != nil {
				execTime = fmt.Sprintf("%.1fms", *req.ExecMS)
			}
			created := time.Unix(int64(req.CreatedAt), 0).Format(time.RFC822)
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", req.RequestID, req.Mode, req.Status, created, execTime)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Printf("\n%d of %d total\n", len(page.Requests), page.Total)
		return nil
	},
}

func init() { //nolint:gochecknoinits // Cobra's init function for command registration
	listCmd.Flags().StringVar(&listMode, "mode", "", "Filter by mode (sync|async)")
	listCmd.Flags().StringVar(&listStatus, "status", "", "Filter by status (pending|processing|done|failed)")
	listCmd.Flags().IntVar(&listLimit, "limit", 20, "Results per page")
	listCmd.Flags().IntVar(&listOffset, "offset", 0, "Pagination offset")
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Output raw JSON")
	rootCmd.AddCommand(listCmd)
}
