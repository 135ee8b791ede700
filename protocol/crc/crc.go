// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package crc computes the Modbus CRC-16 (reflected polynomial 0xA001,
// initial value 0xFFFF).
package crc

var table [256]uint16

func init() {
	for i := range table {
		v := uint16(i)
		for bit := 0; bit < 8; bit++ {
			if v&1 != 0 {
				v = v>>1 ^ 0xA001
			} else {
				v >>= 1
			}
		}
		table[i] = v
	}
}

// CRC is a running checksum.
type CRC struct {
	value uint16
}

func (crc *CRC) Reset() *CRC {
	crc.value = 0xFFFF
	return crc
}

func (crc *CRC) PushBytes(bs []byte) *CRC {
	for _, b := range bs {
		crc.value = crc.value>>8 ^ table[byte(crc.value)^b]
	}
	return crc
}

func (crc *CRC) Value() uint16 {
	return crc.value
}

// Checksum returns the CRC of bs.
func Checksum(bs []byte) uint16 {
	var c CRC
	return c.Reset().PushBytes(bs).Value()
}
