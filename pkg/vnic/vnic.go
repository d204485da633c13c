// Package vnic tracks receive contexts and the queue groups, RSS state and
// flows bound to them. contexts live in a fixed arena indexed by the group
// attribute of the rules that target them; slot 0 is the port's default
// context and is owned by the device, never by a rule.
package vnic

import (
	"github.com/google/uuid"

	"github.com/k8snetworkplumbingwg/nic-flow-manager/pkg/hw"
)

// VNIC is one receive context slot. a slot is live once a hardware context
// has been allocated for it, and returns to the free state when torn down.
type VNIC struct {
	// Index is the slot index in the arena, equal to the rule group id
	Index int
	// HWID is the hardware receive context id, InvalidVnicID when not live
	HWID hw.VnicID
	// RSSCtx is the hardware RSS context id, InvalidRSSContextID when none
	RSSCtx hw.RSSContextID

	// StartQueue and EndQueue bound the contiguous queue range owned by the
	// context. QueueCount is EndQueue - StartQueue + 1 when live.
	StartQueue uint32
	EndQueue   uint32
	QueueCount int

	// FwGroupIDs are the hardware queue group ids backing the context's queues
	FwGroupIDs []hw.GroupID
	// RSSTable is the RSSTableSize entry indirection table
	RSSTable []hw.GroupID
	// HashKey is the RSSKeySize byte hash key
	HashKey []byte
	// HashTypes is the programmed hash type bitmap
	HashTypes uint32

	VlanStrip bool
	// Default marks slot 0
	Default bool

	// Flows are the handles of flows steering to this context
	Flows []uuid.UUID
}

// Live reports whether the slot has a hardware context allocated
func (v *VNIC) Live() bool {
	return v.HWID != hw.InvalidVnicID
}

// HasFlows reports whether any flow steers to this context
func (v *VNIC) HasFlows() bool {
	return len(v.Flows) > 0
}

// AddFlow binds a flow handle to the context
func (v *VNIC) AddFlow(id uuid.UUID) {
	v.Flows = append(v.Flows, id)
}

// RemoveFlow unbinds a flow handle from the context. unknown handles are ignored.
func (v *VNIC) RemoveFlow(id uuid.UUID) {
	for i := range v.Flows {
		if v.Flows[i] == id {
			v.Flows = append(v.Flows[:i], v.Flows[i+1:]...)
			return
		}
	}
}

// Reset returns the slot to the free state, keeping its index
func (v *VNIC) Reset() {
	idx, def := v.Index, v.Default
	*v = VNIC{}
	v.Index = idx
	v.Default = def
	v.HWID = hw.InvalidVnicID
	v.RSSCtx = hw.InvalidRSSContextID
}

// Pool is the receive context arena. slots are addressed by rule group id
// and allocated in place, there is no free list.
type Pool struct {
	slots []*VNIC
}

// NewPool creates an arena with the given number of slots. slot 0 is marked
// as the default context.
func NewPool(size int) *Pool {
	p := &Pool{slots: make([]*VNIC, size)}
	for i := range p.slots {
		v := &VNIC{Index: i, Default: i == 0}
		v.Reset()
		p.slots[i] = v
	}
	return p
}

// Len returns the arena size
func (p *Pool) Len() int {
	return len(p.slots)
}

// Get returns the slot at the given index, or nil if out of range
func (p *Pool) Get(idx int) *VNIC {
	if idx < 0 || idx >= len(p.slots) {
		return nil
	}
	return p.slots[idx]
}

// Default returns slot 0
func (p *Pool) Default() *VNIC {
	return p.slots[0]
}

// Live returns the live slots in index order
func (p *Pool) Live() []*VNIC {
	var out []*VNIC
	for _, v := range p.slots {
		if v.Live() {
			out = append(out, v)
		}
	}
	return out
}
