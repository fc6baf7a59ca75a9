package index

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// EnsureResult reports what Ensure had to do
type EnsureResult struct {
	Created   bool
	Recreated bool
}

// Changed is true when the index was (re)created and holds no documents
func (r EnsureResult) Changed() bool {
	return r.Created || r.Recreated
}

// BeforeChange runs before Ensure creates or deletes an index. An error
// aborts Ensure and leaves the index untouched.
type BeforeChange func(ctx context.Context) error

// SchemaManager makes live indexes match their declared schema.
// It is not safe for concurrent use against the same index.
type SchemaManager struct {
	engine SearchEngine
}

func NewSchemaManager(engine SearchEngine) *SchemaManager {
	return &SchemaManager{engine: engine}
}

// Ensure creates the index when it is missing, and deletes and recreates it
// when the live analysis settings differ from the declared ones. A matching
// index is left untouched. before, when non-nil, runs ahead of any change.
func (m *SchemaManager) Ensure(ctx context.Context, schema IndexSchema, before BeforeChange) (EnsureResult, error) {
	exists, err := m.engine.IndexExists(ctx, schema.Name)
	if err != nil {
		return EnsureResult{}, err
	}

	if !exists {
		if err := runBefore(ctx, before); err != nil {
			return EnsureResult{}, err
		}
		if err := m.create(ctx, schema); err != nil {
			return EnsureResult{}, err
		}
		log.Info().Str("index", schema.Name).Msg("created index")
		return EnsureResult{Created: true}, nil
	}

	declared, err := schema.AnalysisMap()
	if err != nil {
		return EnsureResult{}, err
	}

	live, err := m.engine.GetAnalysis(ctx, schema.Name)
	if err != nil {
		return EnsureResult{}, err
	}

	if AnalysisEqual(declared, live) {
		log.Debug().Str("index", schema.Name).Msg("index settings up to date")
		return EnsureResult{}, nil
	}

	log.Warn().Str("index", schema.Name).Msg("index analysis settings changed, recreating index")

	if err := runBefore(ctx, before); err != nil {
		return EnsureResult{}, err
	}
	if err := m.engine.DeleteIndex(ctx, schema.Name); err != nil {
		return EnsureResult{}, err
	}
	if err := m.create(ctx, schema); err != nil {
		return EnsureResult{}, err
	}

	log.Info().Str("index", schema.Name).Msg("recreated index")
	return EnsureResult{Recreated: true}, nil
}

func runBefore(ctx context.Context, before BeforeChange) error {
	if before == nil {
		return nil
	}
	return before(ctx)
}

func (m *SchemaManager) create(ctx context.Context, schema IndexSchema) error {
	body, err := schema.Body()
	if err != nil {
		return fmt.Errorf("encode schema %s: %w", schema.Name, err)
	}
	return m.engine.CreateIndex(ctx, schema.Name, body)
}
