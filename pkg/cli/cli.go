package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/beam-cloud/indexsync/pkg/common"
	"github.com/beam-cloud/indexsync/pkg/types"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// Build information (injected at compile time via ldflags)
var Version = "dev"

var (
	configPath string
	jsonOutput bool

	// appConfig is loaded once per invocation, before any command runs
	appConfig types.AppConfig
)

var helpTemplate = `{{with .Long}}{{. | trim}}

{{end}}{{if .HasAvailableSubCommands}}` + `{{.CommandPath}}` + ` ` + `<command>` + `

{{end}}{{if .HasAvailableSubCommands}}Commands:
{{range .Commands}}{{if .IsAvailableCommand}}  {{rpad .Name .NamePadding }}  {{.Short}}
{{end}}{{end}}{{end}}{{if .HasAvailableLocalFlags}}
Flags:
{{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasAvailableInheritedFlags}}

Global Flags:
{{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasExample}}

Examples:
{{.Example}}{{end}}
`

var rootCmd = &cobra.Command{
	Use:   "indexsync",
	Short: "Incremental Postgres to Elasticsearch sync",
	Long: BrandStyle.Render("indexsync") + ` - Incremental Postgres to Elasticsearch sync

Polls the movies database for rows changed since the last committed
watermark and bulk loads them into the movies, genres and person indexes.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		SetJSONOutput(jsonOutput)

		if configPath != "" {
			os.Setenv(common.ConfigPathEnv, configPath)
		}

		config, err := loadConfig()
		if err != nil {
			return err
		}
		appConfig = config
		configureLogging(appConfig)
		return nil
	},
}

func init() {
	rootCmd.SetHelpTemplate(helpTemplate)
	rootCmd.SetVersionTemplate(fmt.Sprintf("  %s version %s\n", BrandStyle.Render("indexsync"), Version))

	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv(common.ConfigPathEnv), "Config file (yaml or json)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(stateCmd)
	rootCmd.AddCommand(configCmd)
}

// Execute runs the CLI. SIGINT and SIGTERM cancel the command context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return rootCmd.ExecuteContext(ctx)
}

func loadConfig() (types.AppConfig, error) {
	configManager, err := common.NewConfigManager[types.AppConfig]()
	if err != nil {
		return types.AppConfig{}, fmt.Errorf("failed to load config: %w", err)
	}
	return configManager.GetConfig(), nil
}

// configureLogging sets up the global logger. Logs always go to stderr so
// command output on stdout stays machine readable.
func configureLogging(config types.AppConfig) {
	level := zerolog.InfoLevel
	if config.DebugMode {
		level = zerolog.DebugLevel
	}

	if config.PrettyLogs && !outputJSON {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	log.Logger = log.Logger.Level(level)
}
