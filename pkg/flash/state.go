package flash

import "fmt"

type State int

const (
	Idle State = iota
	ProgrammingSessionRequested
	Reconnecting
	Identified
	SeedRequested
	KeySent
	DownloadRequested
	Erasing
	ReconnectingAfterErase
	EraseVerified
	Transferring
	TransferExitRequested
	ChecksumRequested
	ChecksumVerified
	Stopped
	Failed
)

var stateNames = [...]string{
	Idle:                        "idle",
	ProgrammingSessionRequested: "programming session requested",
	Reconnecting:                "reconnecting",
	Identified:                  "identified",
	SeedRequested:               "seed requested",
	KeySent:                     "key sent",
	DownloadRequested:           "download requested",
	Erasing:                     "erasing",
	ReconnectingAfterErase:      "reconnecting after erase",
	EraseVerified:               "erase verified",
	Transferring:                "transferring",
	TransferExitRequested:       "transfer exit requested",
	ChecksumRequested:           "checksum requested",
	ChecksumVerified:            "checksum verified",
	Stopped:                     "stopped",
	Failed:                      "failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// StateObserver is called on every state transition
type StateObserver func(from, to State)
