package gocan

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/albenik/bcd"
)

/*
SLCAN 'F' status flags, two hex digits
Bit 0 CAN receive FIFO queue full
Bit 1 CAN transmit FIFO queue full
Bit 2 Error warning (EI), see SJA1000 datasheet
Bit 3 Data Overrun (DOI), see SJA1000 datasheet
Bit 4 Not used.
Bit 5 Error Passive (EPI), see SJA1000 datasheet
Bit 6 Arbitration Lost (ALI), see SJA1000 datasheet
Bit 7 Bus Error (BEI), see SJA1000 datasheet
*/
var statusBits = [8]string{
	"CAN receive FIFO queue full",
	"CAN transmit FIFO queue full",
	"error warning (EI)",
	"data overrun (DOI)",
	"",
	"error passive (EPI)",
	"arbitration lost (ALI)",
	"bus error (BEI)",
}

func checkStatus(b []byte) error {
	if len(b) < 3 {
		return fmt.Errorf("short status response: %q", b)
	}
	v, err := hex.DecodeString(string(b[1:3]))
	if err != nil {
		return fmt.Errorf("invalid status response %q: %v", b, err)
	}
	var flags []string
	for i, msg := range statusBits {
		if msg != "" && checkBitSet(v[0], i) {
			flags = append(flags, msg)
		}
	}
	if len(flags) == 0 {
		return nil
	}
	return errors.New("adapter status: " + strings.Join(flags, ", "))
}

func checkBitSet(n byte, bit int) bool {
	return n&(1<<bit) != 0
}

// decodeVersion parses a "Vhhss" response, hardware and software version as
// two BCD digits each, e.g. V1013 is hardware 1.0 firmware 1.3.
func decodeVersion(b []byte) (hw, sw uint16, err error) {
	if len(b) < 5 {
		return 0, 0, fmt.Errorf("short version response: %q", b)
	}
	raw, err := hex.DecodeString(string(b[1:5]))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid version response %q: %v", b, err)
	}
	v := bcd.ToUint16(raw)
	return v / 100, v % 100, nil
}
