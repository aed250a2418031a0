package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/telekom/change-report/pkg/version"
)

// NewVersionCommand prints build metadata.
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			info := version.GetBuildInfo()
			fmt.Fprintf(cmd.OutOrStdout(), "changereport %s (commit %s, built %s, %s, %s)\n",
				info.Version, info.GitCommit, info.BuildDate, info.GoVersion, info.Platform)
		},
	}
}
