package cmd

import (
	"context"
	"fmt"
	"strconv"

	gocan "github.com/roffe/kwpflash"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:          "kwpflash",
	Short:        "dump, patch and flash 1K0909144 ECU firmware",
	Long:         `Reads the firmware over CCP, patches it offline and writes it back with KWP2000 over TP 2.0`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if debug, _ := cmd.Flags().GetBool(flagDebug); debug {
			log.SetLevel(log.DebugLevel)
		}
	},
}

func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

const (
	flagBus      = "bus"
	flagBaudrate = "baudrate"
	flagCANRate  = "canrate"
	flagDebug    = "debug"
	flagAdapter  = "adapter"
)

func init() {
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05.000",
	})

	pf := rootCmd.PersistentFlags()
	pf.StringP(flagBus, "p", "", "serial port or interface of the CAN adapter")
	pf.IntP(flagBaudrate, "b", 115200, "serial port baudrate")
	pf.Float64(flagCANRate, 500, "CAN bitrate in kbit/s")
	pf.BoolP(flagDebug, "d", false, "debug mode, dumps every frame")
	pf.StringP(flagAdapter, "a", "SLCan", "what adapter to use, see adapters")
}

func adapterConfig(cmd *cobra.Command) (string, *gocan.AdapterConfig, error) {
	f := cmd.Flags()
	name, err := f.GetString(flagAdapter)
	if err != nil {
		return "", nil, err
	}
	port, err := f.GetString(flagBus)
	if err != nil {
		return "", nil, err
	}
	baudrate, err := f.GetInt(flagBaudrate)
	if err != nil {
		return "", nil, err
	}
	canrate, err := f.GetFloat64(flagCANRate)
	if err != nil {
		return "", nil, err
	}
	debug, err := f.GetBool(flagDebug)
	if err != nil {
		return "", nil, err
	}
	return name, &gocan.AdapterConfig{
		Debug:        debug,
		Port:         port,
		PortBaudrate: baudrate,
		CANRate:      canrate,
		OnMessage: func(msg string) {
			log.Debug(msg)
		},
	}, nil
}

func initCAN(ctx context.Context, cmd *cobra.Command) (*gocan.Client, error) {
	name, cfg, err := adapterConfig(cmd)
	if err != nil {
		return nil, err
	}
	adapter, err := gocan.NewAdapter(name, cfg)
	if err != nil {
		return nil, err
	}
	return gocan.New(ctx, adapter)
}

// address flags accept decimal, 0x hex and 0 octal
func getAddress(cmd *cobra.Command, name string) (uint32, error) {
	s, err := cmd.Flags().GetString(name)
	if err != nil {
		return 0, err
	}
	return parseAddress(s)
}

func parseAddress(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return uint32(v), nil
}
