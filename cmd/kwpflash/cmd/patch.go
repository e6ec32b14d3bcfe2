package cmd

import (
	"fmt"
	"strings"

	"github.com/roffe/kwpflash/pkg/firmware"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const flagVersion = "version"

var patchCmd = &cobra.Command{
	Use:   "patch",
	Short: "patch a dumped image",
	Long:  `Applies the patch set for the given software version and recomputes every checksum. Nothing is written unless the whole patch succeeds.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		f := cmd.Flags()
		input, err := f.GetString(flagInput)
		if err != nil {
			return err
		}
		output, err := f.GetString(flagOutput)
		if err != nil {
			return err
		}
		version, err := f.GetString(flagVersion)
		if err != nil {
			return err
		}
		v, err := firmware.Variants().Get(version)
		if err != nil {
			return err
		}
		if err := firmware.PatchFile(input, output, v); err != nil {
			return fmt.Errorf("patch %s: %w", input, err)
		}
		log.Printf("patched %s for %s, wrote %s", input, v.Tag, output)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(patchCmd)
	f := patchCmd.Flags()
	f.StringP(flagInput, "i", "", "input file to patch")
	f.StringP(flagOutput, "o", "", "output file")
	f.String(flagVersion, "", "software version, one of "+strings.Join(firmware.Variants().Tags(), ", "))
	patchCmd.MarkFlagRequired(flagInput)
	patchCmd.MarkFlagRequired(flagOutput)
	patchCmd.MarkFlagRequired(flagVersion)
}
