//go:build socketcan

package gocan

import (
	"context"
	"fmt"
	"net"
	"strings"

	"go.einride.tech/can"
	"go.einride.tech/can/pkg/candevice"
	"go.einride.tech/can/pkg/socketcan"
)

func init() {
	for _, dev := range FindDevices() {
		if err := RegisterAdapter(&AdapterInfo{
			Name:               "SocketCAN " + dev,
			Description:        "Linux kernel CAN interface",
			RequiresSerialPort: false,
			New:                NewSocketCANFromDevName(dev),
		}); err != nil {
			panic(err)
		}
	}
}

type SocketCAN struct {
	*BaseAdapter
	d    *candevice.Device
	conn net.Conn
	tx   *socketcan.Transmitter
	rx   *socketcan.Receiver
}

func NewSocketCANFromDevName(dev string) func(cfg *AdapterConfig) (Adapter, error) {
	return func(cfg *AdapterConfig) (Adapter, error) {
		cfg.Port = dev
		return NewSocketCAN(cfg)
	}
}

func NewSocketCAN(cfg *AdapterConfig) (Adapter, error) {
	return &SocketCAN{
		BaseAdapter: NewBaseAdapter("SocketCAN", cfg),
	}, nil
}

func (a *SocketCAN) Open(ctx context.Context) error {
	d, err := candevice.New(a.cfg.Port)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", a.cfg.Port, err)
	}
	if err := d.SetBitrate(uint32(a.cfg.CANRate * 1000)); err != nil {
		return fmt.Errorf("failed to set bitrate: %w", err)
	}
	if err := d.SetUp(); err != nil {
		return fmt.Errorf("failed to bring %s up: %w", a.cfg.Port, err)
	}
	a.d = d

	conn, err := socketcan.DialContext(ctx, "can", a.cfg.Port)
	if err != nil {
		d.SetDown()
		return fmt.Errorf("failed to dial %s: %w", a.cfg.Port, err)
	}
	a.conn = conn
	a.tx = socketcan.NewTransmitter(conn)
	a.rx = socketcan.NewReceiver(conn)

	go a.recvManager()
	go a.sendManager(ctx)
	return nil
}

func (a *SocketCAN) Close() error {
	a.BaseAdapter.Close()
	if a.conn != nil {
		a.conn.Close()
	}
	if a.d != nil {
		return a.d.SetDown()
	}
	return nil
}

func (a *SocketCAN) wanted(id uint32) bool {
	if len(a.cfg.CANFilter) == 0 {
		return true
	}
	for _, f := range a.cfg.CANFilter {
		if f == id {
			return true
		}
	}
	return false
}

func (a *SocketCAN) recvManager() {
	for a.rx.Receive() {
		f := a.rx.Frame()
		if !a.wanted(f.ID) {
			continue
		}
		a.deliver(NewFrame(f.ID, f.Data[:f.Length], Incoming))
	}
	select {
	case <-a.closeChan:
	default:
		if err := a.rx.Err(); err != nil {
			a.Fatal(fmt.Errorf("receive: %w", err))
		}
	}
}

func (a *SocketCAN) sendManager(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.closeChan:
			return
		case f := <-a.sendChan:
			frame := can.Frame{
				ID:         f.Identifier,
				IsExtended: f.Identifier > 0x7FF,
				Length:     uint8(min(f.DLC(), 8)),
			}
			copy(frame.Data[:], f.Data)
			if err := a.tx.TransmitFrame(ctx, frame); err != nil {
				a.Fatal(fmt.Errorf("transmit: %w", err))
				return
			}
		}
	}
}

func FindDevices() (dev []string) {
	iFaces, _ := net.Interfaces()
	for _, i := range iFaces {
		if strings.Contains(i.Name, "can") {
			dev = append(dev, i.Name)
		}
	}
	return
}
