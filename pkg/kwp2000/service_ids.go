package kwp2000

const (
	DIAGNOSTIC_SESSION_CONTROL                  = 0x10
	READ_ECU_IDENTIFICATION                     = 0x1A
	SECURITY_ACCESS                             = 0x27
	START_ROUTINE_BY_LOCAL_IDENTIFIER           = 0x31
	REQUEST_ROUTINE_RESULTS_BY_LOCAL_IDENTIFIER = 0x33
	REQUEST_DOWNLOAD                            = 0x34
	TRANSFER_DATA                               = 0x36
	REQUEST_TRANSFER_EXIT                       = 0x37
	STOP_COMMUNICATION                          = 0x82

	NEGATIVE_RESPONSE = 0x7F
	POSITIVE_OFFSET   = 0x40
)

// Session types
const (
	SESSION_DEFAULT     = 0x81
	SESSION_PROGRAMMING = 0x85
	SESSION_EXTENDED    = 0x89
)

// Identification options for READ_ECU_IDENTIFICATION
const (
	ECU_IDENT    = 0x9B
	STATUS_FLASH = 0x9C
)

// Security access types
const (
	PROGRAMMING_REQUEST_SEED = 0x11
	PROGRAMMING_SEND_KEY     = 0x12
)

// Local routine identifiers
const (
	ERASE_FLASH              = 0xC4
	CALCULATE_FLASH_CHECKSUM = 0xC5
)

// Negative response codes handled by the client
const (
	GENERAL_REJECT                              = 0x10
	REQUEST_CORRECTLY_RECEIVED_RESPONSE_PENDING = 0x78
)
