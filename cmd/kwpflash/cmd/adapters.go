package cmd

import (
	"fmt"

	gocan "github.com/roffe/kwpflash"
	"github.com/spf13/cobra"
)

var adaptersCmd = &cobra.Command{
	Use:   "adapters",
	Short: "list available adapters",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		for _, a := range gocan.ListAdapters() {
			fmt.Fprintln(cmd.OutOrStdout(), a.String())
		}
	},
}

func init() {
	rootCmd.AddCommand(adaptersCmd)
}
