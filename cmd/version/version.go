package version

import (
	"github.com/spf13/cobra"

	"github.com/tphakala/arstream/internal/buildinfo"
)

// Command creates the version command
func Command(info *buildinfo.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println(info.String())
		},
	}
}
