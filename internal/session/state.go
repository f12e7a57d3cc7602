// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 KindBridge Contributors

package session

// BootState tracks engine boot progress.
type BootState int

const (
	BootBooting BootState = iota
	BootReady
)

func (s BootState) String() string {
	switch s {
	case BootBooting:
		return "booting"
	case BootReady:
		return "ready"
	default:
		return "unknown"
	}
}

// ListenerState tracks the external identity listener attachment. Events are
// only applied in AttachedActive; everything observed earlier is dropped so a
// stale "signed out" delivered during the boot window cannot clobber a
// session that restoration is still rebuilding.
type ListenerState int

const (
	ListenerUnattached ListenerState = iota
	ListenerAttachedWaitingInit
	ListenerAttachedActive
)

func (s ListenerState) String() string {
	switch s {
	case ListenerUnattached:
		return "unattached"
	case ListenerAttachedWaitingInit:
		return "attached_waiting_init"
	case ListenerAttachedActive:
		return "attached_active"
	default:
		return "unknown"
	}
}

// validListenerTransitions defines allowed listener transitions as an
// adjacency list. Unattached -> AttachedActive is deliberately absent: the
// listener must pass through the waiting-init guard.
var validListenerTransitions = map[ListenerState]map[ListenerState]bool{
	ListenerUnattached: {
		ListenerAttachedWaitingInit: true,
	},
	ListenerAttachedWaitingInit: {
		ListenerAttachedActive: true,
		ListenerUnattached:     true,
	},
	ListenerAttachedActive: {
		ListenerUnattached: true,
	},
}

// ValidListenerTransition returns true if transitioning from one listener
// state to another is allowed.
func ValidListenerTransition(from, to ListenerState) bool {
	allowed, exists := validListenerTransitions[from][to]
	return exists && allowed
}
