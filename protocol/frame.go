// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package protocol implements the framing used by the stream transports:
//
//	[type:1][length:2 big endian][payload:length][crc:2 low byte first]
//
// The CRC covers type, length and payload.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/ffutop/fota-gateway/protocol/crc"
)

const (
	headerSize = 3
	crcSize    = 2

	// MinSize is the size of a frame with an empty payload.
	MinSize = headerSize + crcSize
	// MaxPayload bounds the payload of a single frame.
	MaxPayload = 512
	MaxSize    = MinSize + MaxPayload
)

// FrameType identifies the frame content.
type FrameType byte

const (
	// Requests
	FrameControl    FrameType = 0x01 // opcode
	FrameData       FrameType = 0x02 // fragment id, data
	FrameStatusRead FrameType = 0x03 // empty

	// Responses
	FrameControlReply FrameType = 0x81 // reply
	FrameStatusReply  FrameType = 0x83 // status, fragment id
	FrameNotify       FrameType = 0x84 // status, fragment id
)

var ErrChecksum = errors.New("protocol: checksum mismatch")

type InvalidLengthError struct {
	Length int
}

func (e *InvalidLengthError) Error() string {
	return fmt.Sprintf("invalid length received: %d", e.Length)
}

type UnknownTypeError struct {
	Type byte
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown frame type: 0x%02X", e.Type)
}

// Frame is a decoded frame.
type Frame struct {
	Type    FrameType
	Payload []byte
}

func knownType(t FrameType) bool {
	switch t {
	case FrameControl, FrameData, FrameStatusRead, FrameControlReply, FrameStatusReply, FrameNotify:
		return true
	}
	return false
}

// Encode returns the wire form of the frame.
func (f *Frame) Encode() ([]byte, error) {
	if len(f.Payload) > MaxPayload {
		return nil, &InvalidLengthError{Length: len(f.Payload)}
	}
	length := MinSize + len(f.Payload)
	raw := make([]byte, length)
	raw[0] = byte(f.Type)
	binary.BigEndian.PutUint16(raw[1:], uint16(len(f.Payload)))
	copy(raw[headerSize:], f.Payload)

	checksum := crc.Checksum(raw[:length-crcSize])
	raw[length-2] = byte(checksum)
	raw[length-1] = byte(checksum >> 8)
	return raw, nil
}

// Decode parses exactly one frame.
func Decode(raw []byte) (*Frame, error) {
	if len(raw) < MinSize || len(raw) > MaxSize {
		return nil, &InvalidLengthError{Length: len(raw)}
	}
	n := int(binary.BigEndian.Uint16(raw[1:]))
	if len(raw) != MinSize+n {
		return nil, &InvalidLengthError{Length: n}
	}
	if !knownType(FrameType(raw[0])) {
		return nil, &UnknownTypeError{Type: raw[0]}
	}

	length := len(raw)
	checksum := crc.Checksum(raw[:length-crcSize])
	if checksum != uint16(raw[length-1])<<8|uint16(raw[length-2]) {
		return nil, ErrChecksum
	}

	payload := make([]byte, n)
	copy(payload, raw[headerSize:headerSize+n])
	return &Frame{Type: FrameType(raw[0]), Payload: payload}, nil
}

const (
	stateType = 1 << iota
	stateLength
	statePayload
)

// ReadFrame reads the next frame from r. Bytes that cannot start a frame are
// skipped. A frame with a bad checksum is consumed and reported as ErrChecksum,
// so the caller can keep reading.
func ReadFrame(r io.Reader) (*Frame, error) {
	buf := make([]byte, 1)
	data := make([]byte, MaxSize)

	state := stateType
	var n, toRead int

	for {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}

		switch state {
		case stateType:
			if knownType(FrameType(buf[0])) {
				data[0] = buf[0]
				n = 1
				state = stateLength
			}
		case stateLength:
			data[n] = buf[0]
			n++
			if n < headerSize {
				continue
			}
			toRead = int(binary.BigEndian.Uint16(data[1:]))
			if toRead > MaxPayload {
				return nil, &InvalidLengthError{Length: toRead}
			}
			toRead += crcSize
			state = statePayload
		case statePayload:
			data[n] = buf[0]
			n++
			toRead--
			if toRead == 0 {
				return Decode(data[:n])
			}
		}
	}
}

// WriteFrame encodes and writes a frame.
func WriteFrame(w io.Writer, f *Frame) error {
	raw, err := f.Encode()
	if err != nil {
		return err
	}
	_, err = w.Write(raw)
	return err
}
