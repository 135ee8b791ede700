// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package session

// holder is the party allowed to touch the update region.
type holder uint8

const (
	holderNone holder = iota
	holderEraser
	holderWriter
)

func (h holder) String() string {
	switch h {
	case holderEraser:
		return "eraser"
	case holderWriter:
		return "writer"
	}
	return "none"
}

// permit grants access to the update region to at most one holder.
type permit struct {
	holder holder
}

// grant hands the permit to h, taking it from whoever held it.
func (p *permit) grant(h holder) {
	p.holder = h
}

// release gives the permit back if h holds it.
func (p *permit) release(h holder) {
	if p.holder == h {
		p.holder = holderNone
	}
}

func (p *permit) held(h holder) bool {
	return p.holder == h
}
