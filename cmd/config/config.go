package config

import (
	"github.com/spf13/cobra"

	"github.com/tphakala/arstream/internal/conf"
)

// Command creates the config command, which prints the effective
// configuration after defaults, file, environment and flags are merged
func Command(settings *conf.Settings) *cobra.Command {
	var savePath string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			if savePath != "" {
				if err := conf.SaveYAMLConfig(savePath, settings); err != nil {
					return err
				}
				cmd.Printf("Configuration written to %s\n", savePath)
				return nil
			}

			data, err := conf.Dump(settings)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.Flags().StringVar(&savePath, "save", "", "Write the configuration to this file instead of printing it")

	return cmd
}
