package kwp2000

import (
	"errors"
	"fmt"
)

var (
	ErrShortResponse = errors.New("short response")
)

// NegativeResponseError is a 0x7F reply from the ECU
type NegativeResponseError struct {
	Service byte
	Code    byte
}

func (e *NegativeResponseError) Error() string {
	return fmt.Sprintf("service 0x%02X rejected: %s (0x%02X)", e.Service, TranslateErrorCode(e.Code), e.Code)
}

// UnexpectedResponseError is returned when the reply does not belong to the request
type UnexpectedResponseError struct {
	Service  byte
	Response []byte
}

func (e *UnexpectedResponseError) Error() string {
	return fmt.Sprintf("unexpected response to service 0x%02X: %X", e.Service, e.Response)
}

func TranslateErrorCode(p byte) string {
	switch p {
	case 0x00:
		return "Affirmative response"
	case 0x10:
		return "General reject"
	case 0x11:
		return "Service not supported"
	case 0x12:
		return "Sub-function not supported - invalid format"
	case 0x21:
		return "Busy, repeat request"
	case 0x22:
		return "Conditions not correct or request sequence error"
	case 0x23:
		return "Routine not completed or service in progress"
	case 0x31:
		return "Request out of range"
	case 0x33:
		return "Security access denied"
	case 0x35:
		return "Invalid key"
	case 0x36:
		return "Exceeded number of attempts"
	case 0x37:
		return "Required time delay not expired"
	case 0x40:
		return "Download not accepted"
	case 0x41:
		return "Improper download type"
	case 0x42:
		return "Can not download to specified address"
	case 0x43:
		return "Can not download number of bytes requested"
	case 0x50:
		return "Upload not accepted"
	case 0x51:
		return "Improper upload type"
	case 0x52:
		return "Can not upload from specified address"
	case 0x53:
		return "Can not upload number of bytes requested"
	case 0x71:
		return "Transfer suspended"
	case 0x72:
		return "Transfer aborted"
	case 0x74:
		return "Illegal address in block transfer"
	case 0x75:
		return "Illegal byte count in block transfer"
	case 0x76:
		return "Illegal block transfer type"
	case 0x77:
		return "Block transfer data checksum error"
	case 0x78:
		return "Request correctly received, response pending"
	case 0x79:
		return "Incorrect byte count during block transfer"
	case 0x80:
		return "Service not supported in active diagnostic session"
	case 0x9A:
		return "Data decompression failed"
	case 0x9B:
		return "Data decryption failed"
	case 0xA0:
		return "ECU not responding"
	case 0xA1:
		return "ECU address unknown"
	default:
		return fmt.Sprintf("Unknown error %X", p)
	}
}
