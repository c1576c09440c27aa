package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverURL   string
	configPath  string
	noAutoStart bool
	verbose     bool
	rootCmd     = &cobra.Command{
		Use:   "viewu",
		Short: "viewu CLI - play and save NVR clips",
		Long:  `A command-line interface for playing and saving clips from a network video recorder.`,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8971", "Server URL")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file")
	rootCmd.PersistentFlags().BoolVar(&noAutoStart, "no-auto-start", false, "Don't auto-start server if not running")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose logging")

	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(trustCmd)
	rootCmd.AddCommand(playCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(closeCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(configCmd)
}

// ensureServer checks if server is running and starts it if needed (unless --no-auto-start)
func ensureServer() {
	if noAutoStart {
		return
	}
	if err := ensureServerRunning(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
}

// apiRequest sends a JSON request to the server and returns the body of a
// response with the expected status
func apiRequest(method, path string, payload interface{}, wantStatus int) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, serverURL+path, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != wantStatus {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return nil, fmt.Errorf("%s (HTTP %d)", apiErr.Error, resp.StatusCode)
		}
		return nil, fmt.Errorf("unexpected HTTP %d: %s", resp.StatusCode, string(data))
	}
	return data, nil
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List playback sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		ensureServer()

		data, err := apiRequest(http.MethodGet, "/api/v1/sessions", nil, http.StatusOK)
		if err != nil {
			return err
		}

		var sessions []map[string]interface{}
		if err := json.Unmarshal(data, &sessions); err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTRATEGY\tSTATE\tPROGRESS\tURL")
		for _, s := range sessions {
			progress, _ := s["progress"].(float64)
			fmt.Fprintf(w, "%s\t%v\t%v\t%3.0f%%\t%s\n",
				truncate(stringField(s, "id"), 8),
				s["strategy"],
				s["state"],
				progress*100,
				truncate(stringField(s, "request_url"), 50))
		}
		return w.Flush()
	},
}

var closeCmd = &cobra.Command{
	Use:   "close [id]",
	Short: "Dispose a playback session and delete its local files",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ensureServer()
		if _, err := apiRequest(http.MethodDelete, "/api/v1/sessions/"+args[0], nil, http.StatusOK); err != nil {
			return err
		}
		fmt.Println("Session closed")
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show saved transfer history",
	RunE: func(cmd *cobra.Command, args []string) error {
		ensureServer()
		state, _ := cmd.Flags().GetString("state")

		path := "/api/v1/transfers"
		if state != "" {
			path += "?state=" + state
		}
		data, err := apiRequest(http.MethodGet, path, nil, http.StatusOK)
		if err != nil {
			return err
		}

		var records []map[string]interface{}
		if err := json.Unmarshal(data, &records); err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATE\tNAME\tERROR\tCREATED")
		for _, r := range records {
			fmt.Fprintf(w, "%s\t%v\t%s\t%s\t%s\n",
				truncate(stringField(r, "id"), 8),
				r["state"],
				truncate(stringField(r, "destination_name"), 40),
				stringField(r, "error_kind"),
				stringField(r, "created_at"))
		}
		return w.Flush()
	},
}

func init() {
	historyCmd.Flags().StringP("state", "s", "", "Filter by state (succeeded, failed, cancelled)")
}

func stringField(m map[string]interface{}, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
