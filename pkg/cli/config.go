package cli

import (
	"github.com/beam-cloud/indexsync/pkg/types"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration with secrets redacted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if PrintJSON(appConfig.Redact()) {
			return nil
		}

		out, err := renderConfig(appConfig)
		if err != nil {
			return err
		}
		_, err = stdout.Write(out)
		return err
	},
}

func renderConfig(config types.AppConfig) ([]byte, error) {
	return yaml.Marshal(config.Redact())
}
