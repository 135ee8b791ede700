// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package session

// State is the lifecycle state of an update session.
type State int

const (
	StateIdle State = iota
	StateErasing
	StateReady
	StateCancelled
	StateCommitRequested
	StateCommitted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateErasing:
		return "erasing"
	case StateReady:
		return "ready"
	case StateCancelled:
		return "cancelled"
	case StateCommitRequested:
		return "commit requested"
	case StateCommitted:
		return "committed"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}
