package gocan

import (
	"fmt"

	"github.com/fatih/color"
)

type CANFrameType struct {
	Type      int
	Responses int
}

var (
	Incoming = CANFrameType{Type: 0, Responses: 0}
	Outgoing = CANFrameType{Type: 1, Responses: 0}
	// ResponseRequired marks a request the sender waits on
	ResponseRequired = CANFrameType{Type: 2, Responses: 1}
)

type CANFrame struct {
	Identifier uint32
	Data       []byte
	FrameType  CANFrameType
}

// NewFrame creates a new CANFrame and copies the data slice
func NewFrame(identifier uint32, data []byte, frameType CANFrameType) *CANFrame {
	d := make([]byte, len(data))
	copy(d, data)
	return &CANFrame{
		Identifier: identifier,
		Data:       d,
		FrameType:  frameType,
	}
}

func (f *CANFrame) DLC() int {
	return len(f.Data)
}

var (
	blue  = color.New(color.FgHiBlue).SprintFunc()
	red   = color.New(color.FgRed).SprintFunc()
	green = color.New(color.FgGreen).SprintFunc()
	plain = fmt.Sprint
)

var directions = [...]string{"<i>", "<o>", "<r>"}

func (f *CANFrame) direction() string {
	if t := f.FrameType.Type; t >= 0 && t < len(directions) {
		return directions[t]
	}
	return "<?>"
}

// format renders "dir || id || dlc || hex || ascii", the id, hex and ascii
// columns passed through the given painters
func (f *CANFrame) format(id, hex, ascii func(...interface{}) string) string {
	return fmt.Sprintf("%s || %s || %d || %s || %s",
		f.direction(),
		id(fmt.Sprintf("0x%03X", f.Identifier)),
		len(f.Data),
		hex(fmt.Sprintf("%-23s", fmt.Sprintf("% X", f.Data))),
		ascii(printable(f.Data)),
	)
}

func (f *CANFrame) String() string {
	return f.format(plain, plain, plain)
}

func (f *CANFrame) ColorString() string {
	return f.format(green, red, blue)
}

func printable(data []byte) string {
	out := make([]byte, len(data))
	for i, b := range data {
		if b < 32 || b > 126 {
			b = '.'
		}
		out[i] = b
	}
	return string(out)
}
