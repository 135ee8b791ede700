// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package protocol

import (
	"fmt"

	"github.com/ffutop/fota-gateway/internal/fota"
)

// MaxFragment is the largest data slice carried by one data frame.
const MaxFragment = MaxPayload - 1

func NewControl(op fota.Opcode) *Frame {
	return &Frame{Type: FrameControl, Payload: []byte{byte(op)}}
}

func NewData(fragmentID byte, data []byte) *Frame {
	payload := make([]byte, 1+len(data))
	payload[0] = fragmentID
	copy(payload[1:], data)
	return &Frame{Type: FrameData, Payload: payload}
}

func NewStatusRead() *Frame {
	return &Frame{Type: FrameStatusRead}
}

func NewControlReply(r fota.Reply) *Frame {
	return &Frame{Type: FrameControlReply, Payload: []byte{byte(r)}}
}

func NewStatusReply(n fota.Notification) *Frame {
	return &Frame{Type: FrameStatusReply, Payload: n.Bytes()}
}

func NewNotify(n fota.Notification) *Frame {
	return &Frame{Type: FrameNotify, Payload: n.Bytes()}
}

// Reply extracts the reply of a control reply frame.
func (f *Frame) Reply() (fota.Reply, error) {
	if f.Type != FrameControlReply || len(f.Payload) != 1 {
		return 0, fmt.Errorf("protocol: not a control reply: type 0x%02X length %d", byte(f.Type), len(f.Payload))
	}
	return fota.Reply(f.Payload[0]), nil
}

// Notification extracts the status of a status reply or notify frame.
func (f *Frame) Notification() (fota.Notification, error) {
	if f.Type != FrameStatusReply && f.Type != FrameNotify {
		return fota.Notification{}, fmt.Errorf("protocol: not a status frame: type 0x%02X", byte(f.Type))
	}
	return fota.ParseNotification(f.Payload)
}
