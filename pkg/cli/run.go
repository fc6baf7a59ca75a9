package cli

import (
	"context"
	"errors"
	"time"

	"github.com/beam-cloud/indexsync/pkg/common"
	"github.com/beam-cloud/indexsync/pkg/index"
	"github.com/beam-cloud/indexsync/pkg/service"
	"github.com/beam-cloud/indexsync/pkg/types"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the sync loop until interrupted",
	Long: `Run one pass per stream every sync.interval until SIGINT or SIGTERM.
A failing stream is logged and retried on the next cycle. Unreachable
backends at startup are retried on the same interval.`,
	Args: cobra.NoArgs,
	RunE: runDaemon,
}

type connectFunc func(ctx context.Context) (*service.Service, error)

func runDaemon(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	interval := index.SyncerConfigFrom(appConfig.Sync).Interval

	svc, err := connectWithRetry(ctx, interval, func(ctx context.Context) (*service.Service, error) {
		return service.New(ctx, appConfig, service.SyncOptions)
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			log.Info().Msg("termination signal received before startup completed")
			return nil
		}
		return err
	}
	defer svc.Close()

	syncer := svc.NewSyncer()

	log.Info().
		Strs("streams", appConfig.Sync.Streams).
		Dur("interval", interval).
		Str("state_backend", appConfig.State.Backend).
		Msg("indexsync started")

	syncer.Run(ctx)

	log.Info().Msg("termination signal received, shutting down")
	return nil
}

// connectWithRetry calls connect until it succeeds or ctx is done, waiting
// interval between attempts. Configuration errors are not retried.
func connectWithRetry(ctx context.Context, interval time.Duration, connect connectFunc) (*service.Service, error) {
	for attempt := 1; ; attempt++ {
		svc, err := connect(ctx)
		if err == nil {
			return svc, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var unknown *types.ErrUnknownBackend
		if errors.As(err, &unknown) {
			return nil, err
		}

		log.Warn().
			Err(err).
			Int("attempt", attempt).
			Dur("retry_in", interval).
			Msg("backends unavailable, retrying")

		if err := common.SleepContext(ctx, interval); err != nil {
			return nil, err
		}
	}
}
