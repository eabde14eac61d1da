package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/marmos91/galaxycache/internal/cli/output"
	"github.com/marmos91/galaxycache/internal/cli/timeutil"
	"github.com/spf13/cobra"
)

var (
	statusOutput string
	statusPort   int
	statusToken  string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Query a node's admin API",
	Long: `Query a running galaxycache node's admin API health endpoint and
display its status.

Pass --token with a viewer or admin token to also display per-line
counters from the authenticated /api/v1/status endpoint.

Examples:
  # Check liveness/readiness only
  galaxycache-node status

  # Check with a custom admin API port
  galaxycache-node status --port 9080

  # Include table counters (requires a token, see 'admin-token')
  galaxycache-node status --token $TOKEN

  # Output as JSON
  galaxycache-node status --output json`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().IntVar(&statusPort, "port", 8080, "Admin API port")
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "table", "Output format (table|json|yaml)")
	statusCmd.Flags().StringVar(&statusToken, "token", "", "Admin API bearer token, for authenticated table counters")
}

// nodeStatus mirrors the shape of internal/adminapi's health and
// status payloads, flattened for CLI display.
type nodeStatus struct {
	Healthy     bool   `json:"healthy" yaml:"healthy"`
	Message     string `json:"message" yaml:"message"`
	StartedAt   string `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	Uptime      string `json:"uptime,omitempty" yaml:"uptime,omitempty"`
	NodeID      string `json:"node_id,omitempty" yaml:"node_id,omitempty"`
	IsMaster    bool   `json:"is_master,omitempty" yaml:"is_master,omitempty"`
	LinesOwned  int64  `json:"lines_owned,omitempty" yaml:"lines_owned,omitempty"`
	LinesShared int64  `json:"lines_shared,omitempty" yaml:"lines_shared,omitempty"`
	Evictions   int64  `json:"evictions,omitempty" yaml:"evictions,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(statusOutput)
	if err != nil {
		return err
	}

	status := nodeStatus{Healthy: false, Message: "node is not reachable"}
	client := &http.Client{Timeout: 3 * time.Second}

	healthURL := fmt.Sprintf("http://localhost:%d/health", statusPort)
	if resp, err := client.Get(healthURL); err == nil {
		defer func() { _ = resp.Body.Close() }()
		var body struct {
			Status string `json:"status"`
			Data   struct {
				StartedAt string `json:"started_at"`
				Uptime    string `json:"uptime"`
			} `json:"data"`
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err == nil {
			status.Healthy = body.Status == "healthy"
			status.StartedAt = body.Data.StartedAt
			status.Uptime = body.Data.Uptime
			if status.Healthy {
				status.Message = "node is running and healthy"
			} else {
				status.Message = fmt.Sprintf("node is running but unhealthy: %s", body.Error)
			}
		}
	}

	if statusToken != "" && status.Healthy {
		statusURL := fmt.Sprintf("http://localhost:%d/api/v1/status", statusPort)
		req, _ := http.NewRequest(http.MethodGet, statusURL, nil)
		req.Header.Set("Authorization", "Bearer "+statusToken)
		if resp, err := client.Do(req); err == nil {
			defer func() { _ = resp.Body.Close() }()
			var body struct {
				NodeID      string `json:"node_id"`
				IsMaster    bool   `json:"is_master"`
				LinesOwned  int64  `json:"lines_owned"`
				LinesShared int64  `json:"lines_shared"`
				Evictions   int64  `json:"evictions_total"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&body); err == nil {
				status.NodeID = body.NodeID
				status.IsMaster = body.IsMaster
				status.LinesOwned = body.LinesOwned
				status.LinesShared = body.LinesShared
				status.Evictions = body.Evictions
			}
		}
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, status)
	case output.FormatYAML:
		return output.PrintYAML(os.Stdout, status)
	default:
		printStatusTable(status)
	}

	return nil
}

func printStatusTable(status nodeStatus) {
	pairs := [][2]string{
		{"Healthy", fmt.Sprintf("%v", status.Healthy)},
		{"Message", status.Message},
	}
	if status.StartedAt != "" {
		pairs = append(pairs, [2]string{"Started", timeutil.FormatTime(status.StartedAt)})
	}
	if status.Uptime != "" {
		pairs = append(pairs, [2]string{"Uptime", timeutil.FormatUptime(status.Uptime)})
	}
	if status.NodeID != "" {
		pairs = append(pairs, [2]string{"Node ID", status.NodeID})
		pairs = append(pairs, [2]string{"Is master", fmt.Sprintf("%v", status.IsMaster)})
		pairs = append(pairs, [2]string{"Lines owned", fmt.Sprintf("%d", status.LinesOwned)})
		pairs = append(pairs, [2]string{"Lines shared", fmt.Sprintf("%d", status.LinesShared)})
		pairs = append(pairs, [2]string{"Evictions", fmt.Sprintf("%d", status.Evictions)})
	}

	fmt.Println()
	fmt.Println("galaxycache Node Status")
	fmt.Println("========================")
	fmt.Println()
	_ = output.SimpleTable(os.Stdout, pairs)
	fmt.Println()
}
