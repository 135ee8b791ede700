// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package fota

import "fmt"

// Opcode is written to the control point to drive a session.
type Opcode byte

const (
	OpNoOp   Opcode = 0x00
	OpStart  Opcode = 0x01
	OpStop   Opcode = 0x02
	OpCommit Opcode = 0x03
)

func (op Opcode) String() string {
	switch op {
	case OpNoOp:
		return "noop"
	case OpStart:
		return "start"
	case OpStop:
		return "stop"
	case OpCommit:
		return "commit"
	}
	return fmt.Sprintf("opcode(0x%02X)", byte(op))
}

// Reply acknowledges a control point write.
type Reply byte

const (
	ReplySuccess           Reply = 0x00
	ReplyInvalidLength     Reply = 0x0D
	ReplyUnlikelyError     Reply = 0x0E
	ReplyUnsupportedOpcode Reply = 0x80
	ReplyInvalidState      Reply = 0x81
)

func (r Reply) String() string {
	switch r {
	case ReplySuccess:
		return "success"
	case ReplyInvalidLength:
		return "invalid length"
	case ReplyUnlikelyError:
		return "unlikely error"
	case ReplyUnsupportedOpcode:
		return "unsupported opcode"
	case ReplyInvalidState:
		return "invalid state"
	}
	return fmt.Sprintf("reply(0x%02X)", byte(r))
}

// Status is notified to the uploader.
type Status byte

const (
	StatusOK                  Status = 0x00
	StatusUpdateSuccessful    Status = 0x01
	StatusXOFF                Status = 0x02
	StatusXON                 Status = 0x03
	StatusSyncLost            Status = 0x04
	StatusUnspecifiedError    Status = 0x05
	StatusValidationFailure   Status = 0x06
	StatusInstallationFailure Status = 0x07
	StatusOutOfMemory         Status = 0x08
	StatusMemoryError         Status = 0x09
	StatusHardwareError       Status = 0x0a
	StatusNoFOTASession       Status = 0x0b
)

var statusNames = map[Status]string{
	StatusOK:                  "ok",
	StatusUpdateSuccessful:    "update successful",
	StatusXOFF:                "xoff",
	StatusXON:                 "xon",
	StatusSyncLost:            "sync lost",
	StatusUnspecifiedError:    "unspecified error",
	StatusValidationFailure:   "validation failure",
	StatusInstallationFailure: "installation failure",
	StatusOutOfMemory:         "out of memory",
	StatusMemoryError:         "memory error",
	StatusHardwareError:       "hardware error",
	StatusNoFOTASession:       "no fota session",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(0x%02X)", byte(s))
}

// IsError reports whether the status ends the update on the uploader side.
func (s Status) IsError() bool {
	switch s {
	case StatusOK, StatusUpdateSuccessful, StatusXOFF, StatusXON, StatusSyncLost:
		return false
	}
	return true
}

// Notification is the value of the status characteristic.
type Notification struct {
	Status     Status
	FragmentID byte
}

// Bytes returns the two-byte wire form.
func (n Notification) Bytes() []byte {
	return []byte{byte(n.Status), n.FragmentID}
}

// ParseNotification decodes the two-byte wire form.
func ParseNotification(b []byte) (Notification, error) {
	if len(b) != 2 {
		return Notification{}, fmt.Errorf("invalid notification length: %d", len(b))
	}
	return Notification{Status: Status(b[0]), FragmentID: b[1]}, nil
}

// StatusError is implemented by data errors that should be notified to the
// uploader with a specific status.
type StatusError interface {
	error
	Status() Status
}
