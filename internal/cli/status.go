package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/chatwatch/internal/health"
)

var statusAddr string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the health of a running chatwatch instance",
	Run:   runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusAddr, "addr", "", "health server address (default: localhost and the configured port)")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	addr := statusAddr
	if addr == "" {
		cfg := loadConfig()
		addr = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	report, err := fetchReport(ctx, addr)
	if err != nil {
		slog.Error("Failed to query health", "addr", addr, "error", err)
		os.Exit(1)
	}
	printReport(os.Stdout, report)
}

func fetchReport(ctx context.Context, addr string) (health.HealthReport, error) {
	var report health.HealthReport
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, addr+"/health/detailed", nil)
	if err != nil {
		return report, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return report, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return report, fmt.Errorf("unexpected status %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return report, fmt.Errorf("decode report: %w", err)
	}
	return report, nil
}

func printReport(out io.Writer, r health.HealthReport) {
	_, _ = fmt.Fprintf(out, "System: %s\n\n", r.SystemStatus)

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "CHANNEL\tSTATE\tROOMS\tSUBSCRIPTIONS\tSTATUS")
	names := make([]string, 0, len(r.Channels))
	for name := range r.Channels {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c := r.Channels[name]
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n", name, c.State, c.RoomCount, c.SubscriptionCount, c.Status)
	}
	_ = w.Flush()
	_, _ = fmt.Fprintln(out)

	w = tabwriter.NewWriter(out, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "ROOM STATE\tCOUNT")
	states := make([]string, 0, len(r.Rooms))
	for s := range r.Rooms {
		states = append(states, s)
	}
	sort.Strings(states)
	for _, s := range states {
		_, _ = fmt.Fprintf(w, "%s\t%d\n", s, r.Rooms[s])
	}
	_ = w.Flush()
	_, _ = fmt.Fprintln(out)

	w = tabwriter.NewWriter(out, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "API\tHEALTH\tSTATUS\tLATENCY\tFAILURES/H")
	apis := make([]string, 0, len(r.APIs))
	for name := range r.APIs {
		apis = append(apis, name)
	}
	sort.Strings(apis)
	for _, name := range apis {
		a := r.APIs[name]
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", name, a.Health, a.Status, a.AverageLatency, a.FailuresLastHour)
	}
	_ = w.Flush()
}
