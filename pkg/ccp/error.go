package ccp

import "fmt"

type Error struct {
	Command byte
	Code    byte
}

func (e *Error) Error() string {
	return fmt.Sprintf("ccp command 0x%02X failed: %s (0x%02X)", e.Command, TranslateErrorCode(e.Code), e.Code)
}

func TranslateErrorCode(p byte) string {
	switch p {
	case 0x00:
		return "Acknowledge"
	case 0x01:
		return "DAQ processor overload"
	case 0x10:
		return "Command processor busy"
	case 0x11:
		return "DAQ processor busy"
	case 0x12:
		return "Internal timeout"
	case 0x18:
		return "Key request"
	case 0x19:
		return "Session status request"
	case 0x20:
		return "Cold start request"
	case 0x21:
		return "Calibration data initialization request"
	case 0x22:
		return "DAQ list initialization request"
	case 0x23:
		return "Code update request"
	case 0x30:
		return "Unknown command"
	case 0x31:
		return "Command syntax"
	case 0x32:
		return "Parameter out of range"
	case 0x33:
		return "Access denied"
	case 0x34:
		return "Overload"
	case 0x35:
		return "Access locked"
	case 0x36:
		return "Resource not available"
	default:
		return fmt.Sprintf("Unknown error %X", p)
	}
}
