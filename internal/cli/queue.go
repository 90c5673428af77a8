package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/resilink/internal/control"
	"github.com/vietddude/resilink/internal/core/domain"
	"github.com/vietddude/resilink/internal/infra/storage"
	"github.com/vietddude/resilink/internal/queue"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect the persisted replay queue",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued requests in replay order",
	Run:   runQueueList,
}

var queueClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every queued request",
	Run:   runQueueClear,
}

func init() {
	queueCmd.AddCommand(queueListCmd, queueClearCmd)
	rootCmd.AddCommand(queueCmd)
}

// openStore opens the configured durable store. Nothing here replays requests.
func openStore(ctx context.Context) (storage.Store, io.Closer) {
	cfg := loadConfig()
	store, closer, err := control.OpenStore(ctx, cfg.Storage)
	if err != nil {
		slog.Error("Failed to open storage", "driver", cfg.Storage.Driver, "error", err)
		os.Exit(1)
	}
	return store, closer
}

func closeQuietly(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}

func runQueueList(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	store, closer := openStore(ctx)
	defer closeQuietly(closer)

	reqs, err := queue.Inspect(ctx, store)
	if err != nil {
		slog.Error("Failed to read queue", "error", err)
		os.Exit(1)
	}
	printQueue(os.Stdout, reqs, time.Now())
}

func printQueue(out io.Writer, reqs []*domain.QueuedRequest, now time.Time) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "ID\tPRIORITY\tMETHOD\tTARGET\tATTEMPTS\tAGE")
	for _, r := range reqs {
		target := r.URL
		if r.Channel {
			target = "channel:" + string(r.Body)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\t%s\n",
			r.ID, r.Priority, r.Method, target, r.AttemptCount, r.MaxAttempts, now.Sub(r.EnqueuedAt).Round(time.Second))
	}
	_ = w.Flush()
}

func runQueueClear(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	store, closer := openStore(ctx)
	defer closeQuietly(closer)

	reqs, err := queue.Inspect(ctx, store)
	if err != nil {
		slog.Error("Failed to read queue", "error", err)
		os.Exit(1)
	}
	if err := storage.Clear(ctx, store); err != nil {
		slog.Error("Failed to clear queue", "error", err)
		os.Exit(1)
	}
	fmt.Printf("Cleared %d queued requests\n", len(reqs))
}
