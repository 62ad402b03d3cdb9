package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serverURL string

var rootCmd = &cobra.Command{
	Use:   "workd-cli",
	Short: "workd-cli is the command-line client for the workd service.",
	Long:  `A CLI for submitting work to a running workd instance and inspecting request lifecycles, queue metrics, and health.`,
}

func init() { //nolint:gochecknoinits // Cobra's init function for command registration
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "http://localhost:8080", "Base URL of the workd server")
}

// initConfig reads in ENV variables if set.
func initConfig() {
	viper.SetEnvPrefix("WORKD")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if env := viper.GetString("SERVER"); env != "" && !rootCmd.PersistentFlags().Changed("server") {
		serverURL = env
	}
}

var httpClient = &http.Client{Timeout: 60 * time.Second}

// getJSON fetches path from the server and decodes the response into v.
func getJSON(path string, v any) error {
	resp, err := httpClient.Get(strings.TrimSuffix(serverURL, "/") + path)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return apiError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// postJSON posts body to path and decodes the response into v. Statuses below
// 400 are successes; the async path answers 202.
func postJSON(path string, body, v any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}

	resp, err := httpClient.Post(
		strings.TrimSuffix(serverURL, "/")+path,
		"application/json",
		strings.NewReader(string(raw)),
	)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return apiError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func apiError(resp *http.Response) error {
	var body struct {
		Detail string `json:"detail"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if json.Unmarshal(data, &body) == nil && body.Detail != "" {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, body.Detail)
	}
	return fmt.Errorf("server returned %d", resp.StatusCode)
}
