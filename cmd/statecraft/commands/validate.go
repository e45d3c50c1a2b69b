package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/statecraft-io/statecraft/pkg/config"
)

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			fmt.Printf("Configuration valid: node %q\n", cfg.Node.ID)
			return nil
		},
	}
}
