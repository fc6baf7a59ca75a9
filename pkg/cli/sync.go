package cli

import (
	"fmt"
	"strconv"

	"github.com/beam-cloud/indexsync/pkg/index"
	"github.com/beam-cloud/indexsync/pkg/service"
	"github.com/beam-cloud/indexsync/pkg/types"
	"github.com/spf13/cobra"
)

var syncStreams []string

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run exactly one sync cycle",
	Long: `Run one pass per stream and exit. The exit code is non-zero when any
stream failed.`,
	Example: `  indexsync sync
  indexsync sync --stream movie --stream person`,
	Args: cobra.NoArgs,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().StringSliceVar(&syncStreams, "stream", nil, "Stream to synchronize (repeatable, default all configured)")
}

// cycleReport is the outcome of one cycle as printed by sync
type cycleReport struct {
	Streams []streamReport `json:"streams"`
}

type streamReport struct {
	Stream    string            `json:"stream"`
	State     types.StreamState `json:"state"`
	Documents int               `json:"documents"`
	Batches   int               `json:"batches"`
	Recreated bool              `json:"recreated"`
	Watermark string            `json:"watermark"`
	Error     string            `json:"error,omitempty"`
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	svc, err := service.New(ctx, appConfig, service.SyncOptions)
	if err != nil {
		return err
	}
	defer svc.Close()

	syncer := svc.NewSyncer()

	config := index.SyncerConfigFrom(appConfig.Sync)
	if len(syncStreams) > 0 {
		config.Streams = syncStreams
		syncer.SetConfig(config)
	}

	descriptors, err := svc.Registry.Select(config.Streams)
	if err != nil {
		return err
	}

	results, cycleErr := syncer.RunCycle(ctx)

	streams := make([]string, 0, len(descriptors))
	for _, d := range descriptors {
		streams = append(streams, d.Stream)
	}
	report := buildCycleReport(streams, results, syncer.Status())

	if !PrintJSON(report) {
		printCycleReport(report)
	}

	if cycleErr != nil {
		return fmt.Errorf("sync cycle failed: %w", cycleErr)
	}
	return nil
}

func buildCycleReport(streams []string, results []types.PassResult, status map[string]types.StreamStatus) cycleReport {
	byStream := make(map[string]types.PassResult, len(results))
	for _, r := range results {
		byStream[r.Stream] = r
	}

	report := cycleReport{Streams: make([]streamReport, 0, len(streams))}
	for _, stream := range streams {
		st := status[stream]
		r := byStream[stream]

		entry := streamReport{
			Stream:    stream,
			State:     st.State,
			Documents: r.Documents,
			Batches:   r.Batches,
			Recreated: r.Recreated,
			Watermark: FormatWatermark(st.Watermark),
			Error:     st.LastError,
		}
		if _, ok := byStream[stream]; ok {
			entry.Watermark = FormatWatermark(r.Watermark)
		}
		report.Streams = append(report.Streams, entry)
	}
	return report
}

func printCycleReport(report cycleReport) {
	PrintHeader("Sync cycle")

	table := NewTable("STREAM", "STATE", "DOCUMENTS", "WATERMARK")
	var failed []streamReport
	for _, s := range report.Streams {
		table.AddRow(s.Stream, string(s.State), strconv.Itoa(s.Documents), s.Watermark)
		if s.Error != "" {
			failed = append(failed, s)
		}
	}
	table.Print()
	PrintNewline()

	for _, s := range report.Streams {
		if s.Recreated {
			PrintWarning(fmt.Sprintf("%s: index recreated, stream fully reloaded", s.Stream))
		}
	}
	for _, s := range failed {
		fmt.Fprintf(stdout, "  %s %s: %s\n", ErrorStyle.Render(SymbolError), s.Stream, Truncate(s.Error, 300))
	}
	if len(failed) == 0 {
		PrintSuccess("All streams synchronized")
	}
}
