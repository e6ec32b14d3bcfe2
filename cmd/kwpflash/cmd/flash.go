package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/manifoldco/promptui"
	"github.com/roffe/kwpflash/pkg/bar"
	"github.com/roffe/kwpflash/pkg/firmware"
	"github.com/roffe/kwpflash/pkg/flash"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const flagYes = "yes"

var warning = color.New(color.FgHiRed, color.Bold).SprintfFunc()

var flashCmd = &cobra.Command{
	Use:   "flash",
	Short: "write a patched image to the ECU",
	Long: `Erases and reprograms the given address range from a patched image.
An interrupted flash can leave the ECU without valid firmware.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		f := cmd.Flags()
		input, err := f.GetString(flagInput)
		if err != nil {
			return err
		}
		start, err := getAddress(cmd, flagStart)
		if err != nil {
			return err
		}
		end, err := getAddress(cmd, flagEnd)
		if err != nil {
			return err
		}
		version, err := f.GetString(flagVersion)
		if err != nil {
			return err
		}
		yes, err := f.GetBool(flagYes)
		if err != nil {
			return err
		}

		image, err := os.ReadFile(input)
		if err != nil {
			return err
		}

		opts := []flash.Option{
			flash.WithObserver(func(from, to flash.State) {
				log.WithField("from", from.String()).Debugf("-> %s", to)
			}),
		}
		if version != "" {
			v, err := firmware.Variants().Get(version)
			if err != nil {
				return err
			}
			opts = append(opts, flash.WithVariant(v))
		}
		if !yes {
			fmt.Println(warning("/!\\ flashing erases 0x%06X-0x%06X, do not turn off ignition until done", start, end))
			opts = append(opts, flash.WithConfirmer(flash.ConfirmFunc(yesNo), "Flash "+input+"?"))
		}

		b := bar.New(int(end-start)+1, "flashing")
		opts = append(opts, flash.WithProgress(b.Progress()))

		bus := &canBus{}
		flasher := flash.New(bus, opts...)
		if err := flasher.Preflight(image, start, end); err != nil {
			return err
		}

		c, err := initCAN(ctx, cmd)
		if err != nil {
			return err
		}
		defer c.Close()
		bus.c = c

		_, err = flasher.Flash(ctx, image, start, end)
		var stepErr *flash.StepError
		if errors.As(err, &stepErr) && stepErr.Destructive {
			fmt.Println(warning("/!\\ flash memory was erased, rerun flash before turning off ignition"))
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(flashCmd)
	f := flashCmd.Flags()
	f.StringP(flagInput, "i", "", "patched image to flash")
	f.String(flagStart, "0x5E000", "start address")
	f.String(flagEnd, "0x5EFFF", "end address (inclusive)")
	f.String(flagVersion, "", "verify image size and checksums for this software version")
	f.BoolP(flagYes, "y", false, "do not ask for confirmation")
	flashCmd.MarkFlagRequired(flagInput)
}

func yesNo(label string) (bool, error) {
	prompt := promptui.Select{
		Label:    label + " [Yes/No]",
		HideHelp: true,
		Items:    []string{"Yes", "No"},
	}
	_, result, err := prompt.Run()
	if err != nil {
		if errors.Is(err, promptui.ErrInterrupt) {
			return false, nil
		}
		return false, fmt.Errorf("prompt failed: %w", err)
	}
	return result == "Yes", nil
}
