package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/resilink/internal/channel"
	"github.com/vietddude/resilink/internal/health"
)

var statusAddr string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the health of a running client",
	Run:   runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusAddr, "addr", "", "health server address (default localhost:<server.port>)")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	addr := statusAddr
	if addr == "" {
		cfg := loadConfig()
		addr = fmt.Sprintf("localhost:%d", cfg.Server.Port)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	report, err := fetchReport(ctx, http.DefaultClient, "http://"+addr+"/health/detailed")
	if err != nil {
		slog.Error("Failed to fetch health", "addr", addr, "error", err)
		os.Exit(1)
	}
	printReport(os.Stdout, report)
}

func fetchReport(ctx context.Context, client *http.Client, url string) (*health.HealthReport, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	var report health.HealthReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return nil, fmt.Errorf("failed to decode health report: %w", err)
	}
	return &report, nil
}

func printReport(out io.Writer, r *health.HealthReport) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "COMPONENT\tSTATUS\tDETAIL")
	_, _ = fmt.Fprintf(w, "system\t%s\tchecked %s\n", r.SystemStatus, r.CheckedAt.Format(time.RFC3339))
	_, _ = fmt.Fprintf(w, "channel\t%s\t%s, %d subscriptions %s\n",
		r.Connection.Status, channel.StateDescription(channel.State(r.Connection.State)),
		len(r.Connection.Subscriptions), strings.Join(r.Connection.Subscriptions, ","))
	network := "offline"
	if r.Network.Online {
		network = fmt.Sprintf("online %s rtt=%dms", r.Network.EffectiveType, r.Network.RTTMillis)
	}
	_, _ = fmt.Fprintf(w, "network\t-\t%s\n", network)
	_, _ = fmt.Fprintf(w, "queue\t%s\t%d/%d draining=%t\n", r.Queue.Status, r.Queue.Depth, r.Queue.Capacity, r.Queue.Draining)
	if r.Breaker != "" {
		_, _ = fmt.Fprintf(w, "breaker\t-\t%s\n", r.Breaker)
	}
	_ = w.Flush()
}
