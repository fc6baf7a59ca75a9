package cli

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/beam-cloud/indexsync/pkg/index"
	"github.com/beam-cloud/indexsync/pkg/repository"
	"github.com/beam-cloud/indexsync/pkg/service"
	"github.com/spf13/cobra"
)

var stateForce bool

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect and edit stream watermarks",
}

var stateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the watermark of every stream",
	Args:  cobra.NoArgs,
	RunE: withWatermarks(func(ctx context.Context, svc *service.Service, args []string) error {
		entries, err := listWatermarks(ctx, svc.Registry, svc.Watermarks)
		if err != nil {
			return err
		}
		if PrintJSON(entries) {
			return nil
		}

		table := NewTable("STREAM", "WATERMARK", "RESYNC")
		for _, e := range entries {
			watermark := "-"
			if e.Present {
				watermark = FormatWatermark(e.Watermark)
			}
			resync := ""
			if e.ResyncPending {
				resync = "pending"
			}
			table.AddRow(e.Stream, watermark, resync)
		}
		PrintNewline()
		table.Print()
		PrintNewline()
		return nil
	}),
}

var stateGetCmd = &cobra.Command{
	Use:   "get <stream>",
	Short: "Show the watermark of a stream",
	Args:  cobra.ExactArgs(1),
	RunE: withWatermarks(func(ctx context.Context, svc *service.Service, args []string) error {
		entry, err := getWatermark(ctx, svc.Registry, svc.Watermarks, args[0])
		if err != nil {
			return err
		}
		if PrintJSON(entry) {
			return nil
		}

		PrintNewline()
		PrintKeyValue("Stream", entry.Stream)
		if entry.Present {
			PrintKeyValue("Watermark", FormatWatermark(entry.Watermark))
			PrintKeyValue("Age", FormatRelativeTime(entry.Watermark))
		} else {
			PrintKeyValue("Watermark", DimStyle.Render("not set"))
		}
		if entry.ResyncPending {
			PrintKeyValue("Resync", WarningStyle.Render("pending"))
		}
		PrintNewline()
		return nil
	}),
}

var stateSetCmd = &cobra.Command{
	Use:   "set <stream> <timestamp>",
	Short: "Set the watermark of a stream",
	Long: `Set the watermark of a stream to an RFC 3339 timestamp. Moving a watermark
backwards requires --force.`,
	Example: `  indexsync state set movie 2024-01-01T00:00:00Z
  indexsync state set movie 2020-01-01T00:00:00Z --force`,
	Args: cobra.ExactArgs(2),
	RunE: withWatermarks(func(ctx context.Context, svc *service.Service, args []string) error {
		t, err := setWatermark(ctx, svc.Registry, svc.Watermarks, args[0], args[1], stateForce)
		if err != nil {
			return err
		}
		if !PrintJSON(watermarkEntry{Stream: args[0], Watermark: t, Present: true}) {
			PrintSuccessf("%s watermark set to %s", args[0], FormatWatermark(t))
		}
		return nil
	}),
}

var stateResetCmd = &cobra.Command{
	Use:   "reset <stream>",
	Short: "Remove the watermark so the next pass reloads the whole stream",
	Args:  cobra.ExactArgs(1),
	RunE: withWatermarks(func(ctx context.Context, svc *service.Service, args []string) error {
		if _, err := svc.Registry.Get(args[0]); err != nil {
			return err
		}
		if err := svc.Watermarks.Reset(ctx, args[0]); err != nil {
			return err
		}
		if !PrintJSON(map[string]string{"stream": args[0], "status": "reset"}) {
			PrintSuccessf("%s watermark reset", args[0])
			PrintHint("The next pass reloads the whole stream")
		}
		return nil
	}),
}

func init() {
	stateSetCmd.Flags().BoolVar(&stateForce, "force", false, "Allow moving the watermark backwards")

	stateCmd.AddCommand(stateListCmd)
	stateCmd.AddCommand(stateGetCmd)
	stateCmd.AddCommand(stateSetCmd)
	stateCmd.AddCommand(stateResetCmd)
}

func withWatermarks(fn func(ctx context.Context, svc *service.Service, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		svc, err := service.New(ctx, appConfig, service.StateOptions)
		if err != nil {
			return err
		}
		defer svc.Close()

		return fn(ctx, svc, args)
	}
}

type watermarkEntry struct {
	Stream        string    `json:"stream"`
	Watermark     time.Time `json:"watermark"`
	Present       bool      `json:"present"`
	ResyncPending bool      `json:"resync_pending"`
}

// listWatermarks returns registered streams in registry order, followed by
// any other stream found in the store
func listWatermarks(ctx context.Context, registry *index.Registry, watermarks repository.WatermarkRepository) ([]watermarkEntry, error) {
	stored, err := watermarks.List(ctx)
	if err != nil {
		return nil, err
	}

	streams := make([]string, 0, len(stored))
	for _, d := range registry.List() {
		streams = append(streams, d.Stream)
	}

	var extra []string
	for stream := range stored {
		if !registry.Has(stream) {
			extra = append(extra, stream)
		}
	}
	sort.Strings(extra)
	streams = append(streams, extra...)

	entries := make([]watermarkEntry, 0, len(streams))
	for _, stream := range streams {
		pending, err := watermarks.ResyncPending(ctx, stream)
		if err != nil {
			return nil, err
		}
		t, ok := stored[stream]
		entries = append(entries, watermarkEntry{
			Stream:        stream,
			Watermark:     t,
			Present:       ok,
			ResyncPending: pending,
		})
	}
	return entries, nil
}

func getWatermark(ctx context.Context, registry *index.Registry, watermarks repository.WatermarkRepository, stream string) (watermarkEntry, error) {
	if _, err := registry.Get(stream); err != nil {
		return watermarkEntry{}, err
	}

	t, ok, err := watermarks.Get(ctx, stream)
	if err != nil {
		return watermarkEntry{}, err
	}
	pending, err := watermarks.ResyncPending(ctx, stream)
	if err != nil {
		return watermarkEntry{}, err
	}

	return watermarkEntry{Stream: stream, Watermark: t, Present: ok, ResyncPending: pending}, nil
}

// setWatermark parses raw and stores it. Without force a value older than
// the stored watermark is refused.
func setWatermark(ctx context.Context, registry *index.Registry, watermarks repository.WatermarkRepository, stream, raw string, force bool) (time.Time, error) {
	if _, err := registry.Get(stream); err != nil {
		return time.Time{}, err
	}

	t, err := repository.ParseWatermark(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", raw, err)
	}

	if force {
		err = watermarks.Overwrite(ctx, stream, t)
	} else {
		err = watermarks.Set(ctx, stream, t)
	}
	if err != nil {
		return time.Time{}, err
	}
	return t, nil
}
