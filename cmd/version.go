package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// devVersion is reported when the binary was built without a version.
const devVersion = "dev"

// newVersionCmd creates the Cobra command for displaying the application version.
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of archivist",
		Long:  `Print the archivist version. It needs no server and no stored session.`,
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			v := GetVersion()
			if v == "" {
				v = devVersion
			}
			fmt.Fprintf(cmd.OutOrStdout(), "archivist version %s\n", v)
		},
	}
}
