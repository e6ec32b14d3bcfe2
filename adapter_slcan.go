package gocan

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
	"go.bug.st/serial"
)

type SLCan struct {
	*BaseAdapter
	port   serial.Port
	closed bool
}

func init() {
	if err := RegisterAdapter(&AdapterInfo{
		Name:               "SLCan",
		Description:        "Canable/CANUSB style SLCAN serial adapter",
		RequiresSerialPort: true,
		New:                NewSLCan,
	}); err != nil {
		panic(err)
	}
}

func NewSLCan(cfg *AdapterConfig) (Adapter, error) {
	return &SLCan{
		BaseAdapter: NewBaseAdapter("SLCan", cfg),
	}, nil
}

var slcanRates = map[float64]string{
	10:   "S0",
	20:   "S1",
	50:   "S2",
	100:  "S3",
	125:  "S4",
	250:  "S5",
	500:  "S6",
	750:  "S7",
	1000: "S8",
}

func (sl *SLCan) Open(ctx context.Context) error {
	rate, ok := slcanRates[sl.cfg.CANRate]
	if !ok {
		return fmt.Errorf("unsupported CAN rate %.3f kbit", sl.cfg.CANRate)
	}
	mode := &serial.Mode{
		BaudRate: sl.cfg.PortBaudrate,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}
	p, err := serial.Open(sl.cfg.Port, mode)
	if err != nil {
		return fmt.Errorf("failed to open com port %q : %v", sl.cfg.Port, err)
	}
	p.SetReadTimeout(3 * time.Millisecond)
	sl.port = p

	p.ResetOutputBuffer()
	p.ResetInputBuffer()

	// close any channel left open by a previous session
	p.Write([]byte("C\r"))
	time.Sleep(10 * time.Millisecond)
	p.ResetInputBuffer()

	go sl.recvManager(ctx)

	for _, cmd := range []string{"V", rate, "O"} {
		if _, err := p.Write([]byte(cmd + "\r")); err != nil {
			p.Close()
			return fmt.Errorf("failed to write %q: %w", cmd, err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	go sl.sendManager(ctx)
	return nil
}

func (sl *SLCan) Close() error {
	sl.BaseAdapter.Close()
	sl.closed = true
	if sl.port == nil {
		return nil
	}
	time.Sleep(10 * time.Millisecond)
	sl.port.Write([]byte("C\r"))
	time.Sleep(10 * time.Millisecond)
	return sl.port.Close()
}

func (sl *SLCan) recvManager(ctx context.Context) {
	buf := make([]byte, 0, 1024)
	readBuf := make([]byte, 64)
	for ctx.Err() == nil {
		n, err := sl.port.Read(readBuf)
		if err != nil {
			if !sl.closed {
				sl.Fatal(fmt.Errorf("failed to read com port: %w", err))
			}
			return
		}
		if n == 0 {
			continue
		}
		buf = sl.parse(buf, readBuf[:n])
	}
}

func (sl *SLCan) sendManager(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sl.closeChan:
			return
		case frame := <-sl.sendChan:
			out := encodeSLCanFrame(frame)
			if sl.cfg.Debug {
				log.Debug(">> " + string(out))
			}
			if _, err := sl.port.Write(out); err != nil {
				sl.Fatal(fmt.Errorf("failed to write to com port: %w", err))
				return
			}
		}
	}
}

// encodeSLCanFrame encodes a standard 11 bit frame: t + 3 hex id + dlc + data + CR
func encodeSLCanFrame(frame *CANFrame) []byte {
	buf := make([]byte, 0, 5+len(frame.Data)*2+1)
	buf = append(buf, 't')
	id := frame.Identifier & 0x7FF
	buf = append(buf, nybbleToHex(byte(id>>8)&0xF), nybbleToHex(byte(id>>4)&0xF), nybbleToHex(byte(id)&0xF))
	dlc := min(frame.DLC(), 8)
	buf = append(buf, nybbleToHex(byte(dlc)))
	for i := 0; i < dlc; i++ {
		buf = append(buf, nybbleToHex(frame.Data[i]>>4), nybbleToHex(frame.Data[i]&0xF))
	}
	return append(buf, '\r')
}

// helper converts a 0..15 value to its ASCII hex nibble
func nybbleToHex(n byte) byte {
	if n < 10 {
		return '0' + n
	}
	return 'A' + (n - 10)
}

// parse processes the read data and returns any remaining partial data.
func (sl *SLCan) parse(buf, readBuf []byte) []byte {
	for _, b := range readBuf {
		switch b {
		case '\r':
			if len(buf) == 0 {
				continue
			}
			sl.handleLine(buf)
			buf = buf[:0]
		case 0x07:
			sl.cfg.OnMessage("slcan: command error")
			buf = buf[:0]
		default:
			buf = append(buf, b)
		}
	}
	return buf
}

func (sl *SLCan) handleLine(line []byte) {
	switch line[0] {
	case 't':
		if sl.cfg.Debug {
			log.Debugf("<< %s", string(line))
		}
		f, err := decodeSLCanFrame(line)
		if err != nil {
			sl.cfg.OnMessage(fmt.Sprintf("%v: %X", err, line))
			return
		}
		sl.deliver(f)
	case 'F':
		if err := checkStatus(line); err != nil {
			sl.cfg.OnMessage(err.Error())
		}
	case 'V':
		hw, sw, err := decodeVersion(line)
		if err != nil {
			sl.cfg.OnMessage(err.Error())
			return
		}
		log.Printf("slcan hardware %d.%d, firmware %d.%d", hw/10, hw%10, sw/10, sw%10)
	case 'z':
		// previous transmit was ok
	default:
		sl.cfg.OnMessage("unknown slcan response: " + string(line))
	}
}

func decodeSLCanFrame(buff []byte) (*CANFrame, error) {
	if len(buff) < 5 {
		return nil, fmt.Errorf("short frame")
	}
	id, err := strconv.ParseUint(string(buff[1:4]), 16, 32)
	if err != nil {
		return nil, fmt.Errorf("failed to decode identifier: %v", err)
	}
	dataLen, err := strconv.ParseUint(string(buff[4]), 16, 8)
	if err != nil {
		return nil, fmt.Errorf("failed to decode data length: %v", err)
	}
	if dataLen > 8 || len(buff) < 5+int(dataLen)*2 {
		return nil, fmt.Errorf("invalid data length: %d", dataLen)
	}
	data, err := hex.DecodeString(string(buff[5 : 5+(dataLen*2)]))
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame body: %v", err)
	}
	return NewFrame(uint32(id), data, Incoming), nil
}
