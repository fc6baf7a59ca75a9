package cli

import (
	"context"
	"fmt"

	"github.com/beam-cloud/indexsync/pkg/index"
	"github.com/beam-cloud/indexsync/pkg/repository"
	"github.com/beam-cloud/indexsync/pkg/service"
	"github.com/spf13/cobra"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Manage index schemas",
}

var schemaEnsureCmd = &cobra.Command{
	Use:   "ensure [stream...]",
	Short: "Create or recreate indexes whose analysis settings changed",
	Long: `Create missing indexes and recreate indexes whose analysis settings
differ from the declared ones. A created or recreated index is marked for a
full reload on the next pass.`,
	RunE: runSchemaEnsure,
}

func init() {
	schemaCmd.AddCommand(schemaEnsureCmd)
}

type schemaOutcome struct {
	Stream string `json:"stream"`
	Index  string `json:"index"`
	Action string `json:"action"` // created, recreated or unchanged
}

func runSchemaEnsure(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	svc, err := service.New(ctx, appConfig, service.SchemaOptions)
	if err != nil {
		return err
	}
	defer svc.Close()

	outcomes, err := ensureSchemas(ctx, svc.Registry, index.NewSchemaManager(svc.Search), svc.Watermarks, args)
	if PrintJSON(outcomes) {
		return err
	}

	for _, o := range outcomes {
		switch o.Action {
		case "unchanged":
			PrintInfo(fmt.Sprintf("%s %s", o.Index, DimStyle.Render("up to date")))
		default:
			PrintSuccessf("%s %s", o.Index, o.Action)
		}
	}
	return err
}

// ensureSchemas runs the schema manager for the selected streams. Every index
// about to be created or recreated is marked for a full reload first. It stops
// at the first failure.
func ensureSchemas(ctx context.Context, registry *index.Registry, schemas index.SchemaEnsurer, watermarks repository.WatermarkRepository, streams []string) ([]schemaOutcome, error) {
	descriptors, err := registry.Select(streams)
	if err != nil {
		return nil, err
	}

	outcomes := make([]schemaOutcome, 0, len(descriptors))
	for _, d := range descriptors {
		stream := d.Stream
		result, err := schemas.Ensure(ctx, d.Schema, func(ctx context.Context) error {
			return watermarks.MarkResync(ctx, stream)
		})
		if err != nil {
			return outcomes, fmt.Errorf("ensure %s: %w", d.Index(), err)
		}

		action := "unchanged"
		switch {
		case result.Created:
			action = "created"
		case result.Recreated:
			action = "recreated"
		}

		outcomes = append(outcomes, schemaOutcome{Stream: d.Stream, Index: d.Index(), Action: action})
	}
	return outcomes, nil
}
