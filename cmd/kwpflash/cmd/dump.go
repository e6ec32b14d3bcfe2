package cmd

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/roffe/kwpflash/pkg/bar"
	"github.com/roffe/kwpflash/pkg/ccp"
	"github.com/roffe/kwpflash/pkg/firmware"
	"github.com/roffe/kwpflash/pkg/flash"
	"github.com/roffe/kwpflash/pkg/kwp2000"
	"github.com/roffe/kwpflash/pkg/tp20"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const (
	flagStart  = "start-address"
	flagEnd    = "end-address"
	flagOutput = "output"
	flagInput  = "input"

	dumpBlockSize = 4
)

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "read flash memory to file",
	Long:  `Prints the ECU identification over KWP2000 and then uploads the memory range over CCP`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Minute)
		defer cancel()

		start, err := getAddress(cmd, flagStart)
		if err != nil {
			return err
		}
		end, err := getAddress(cmd, flagEnd)
		if err != nil {
			return err
		}
		if end < start {
			return fmt.Errorf("end address 0x%X is before start address 0x%X", end, start)
		}
		output, err := cmd.Flags().GetString(flagOutput)
		if err != nil {
			return err
		}

		c, err := initCAN(ctx, cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		log.Println("connecting using KWP2000")
		ch, err := tp20.Dial(ctx, c, flash.DefaultLogicalID)
		if err != nil {
			return err
		}
		kwp := kwp2000.New(ch)
		ident, err := kwp.ReadECUIdentification(ctx, kwp2000.ECU_IDENT)
		if err != nil {
			ch.Close()
			return err
		}
		log.Printf("ECU identification: %q", ident)
		status, err := kwp.ReadECUIdentification(ctx, kwp2000.STATUS_FLASH)
		if err != nil {
			ch.Close()
			return err
		}
		log.Printf("Flash status: %X", status)
		ch.Close()

		log.Println("connecting using CCP")
		cl := ccp.New(c, ccp.DefaultCRO, ccp.DefaultDTO, binary.LittleEndian)
		if err := cl.Connect(ctx, 0x0); err != nil {
			return err
		}

		length := int(end-start) + 1
		b := bar.New(length, "dumping")
		data, err := cl.Read(ctx, start, length, dumpBlockSize, b.Progress())
		if err != nil {
			return err
		}
		if err := cl.Disconnect(ctx, 0x0); err != nil {
			log.Printf("ccp disconnect: %v", err)
		}

		if err := firmware.WriteFile(output, data); err != nil {
			return err
		}
		log.Printf("wrote %d bytes to %s", len(data), output)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(dumpCmd)
	f := dumpCmd.Flags()
	f.String(flagStart, "0", "start address")
	f.String(flagEnd, "0x5FFFF", "end address (inclusive)")
	f.StringP(flagOutput, "o", "", "output file")
	dumpCmd.MarkFlagRequired(flagOutput)
}
