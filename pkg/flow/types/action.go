package types

import (
	"fmt"
	"strconv"
)

const (
	ActionTypeVoid  ActionType = "void"
	ActionTypeQueue ActionType = "queue"
	ActionTypeRSS   ActionType = "rss"
	ActionTypeDrop  ActionType = "drop"
	ActionTypeCount ActionType = "count"
	ActionTypeVF    ActionType = "vf"
)

// ActionType is the type of a rule action
type ActionType string

// Action is an interface which represents a rule action
type Action interface {
	// Type returns the action type
	Type() ActionType
	// Equals compares this Action with other, returns true if they are equal or false otherwise
	Equals(other Action) bool

	CmdLineGenerator
}

// VoidAction is a no-op placeholder action, skipped during compilation
type VoidAction struct{}

// Type implements Action interface
func (a *VoidAction) Type() ActionType { return ActionTypeVoid }

// Equals implements Action interface
func (a *VoidAction) Equals(other Action) bool {
	_, ok := other.(*VoidAction)
	return ok
}

// GenCmdLineArgs implements CmdLineGenerator interface
func (a *VoidAction) GenCmdLineArgs() []string { return nil }

// NewQueueAction creates a new QueueAction steering to the given queue index
func NewQueueAction(index uint32) *QueueAction {
	return &QueueAction{Index: index}
}

// QueueAction steers matched traffic to a single receive queue
type QueueAction struct {
	Index uint32
}

// Type implements Action interface
func (a *QueueAction) Type() ActionType { return ActionTypeQueue }

// Equals implements Action interface
func (a *QueueAction) Equals(other Action) bool {
	o, ok := other.(*QueueAction)
	return ok && a.Index == o.Index
}

// GenCmdLineArgs implements CmdLineGenerator interface
func (a *QueueAction) GenCmdLineArgs() []string {
	return []string{"action", "queue", strconv.FormatUint(uint64(a.Index), 10)}
}

// RSSAction spreads matched traffic over a queue set using receive side scaling
type RSSAction struct {
	// Queues are the queue indices to spread over
	Queues []uint32
	// HashTypes is the hash-type mask to program, zero selects the device default
	HashTypes uint32
	// Key is the hash key. empty selects a random key.
	Key []byte
}

// Type implements Action interface
func (a *RSSAction) Type() ActionType { return ActionTypeRSS }

// Equals implements Action interface
func (a *RSSAction) Equals(other Action) bool {
	o, ok := other.(*RSSAction)
	if !ok {
		return false
	}
	if a.HashTypes != o.HashTypes || len(a.Queues) != len(o.Queues) || len(a.Key) != len(o.Key) {
		return false
	}
	for i := range a.Queues {
		if a.Queues[i] != o.Queues[i] {
			return false
		}
	}
	for i := range a.Key {
		if a.Key[i] != o.Key[i] {
			return false
		}
	}
	return true
}

// GenCmdLineArgs implements CmdLineGenerator interface
func (a *RSSAction) GenCmdLineArgs() []string {
	args := []string{"action", "rss", "queues"}
	for _, q := range a.Queues {
		args = append(args, strconv.FormatUint(uint64(q), 10))
	}
	if a.HashTypes != 0 {
		args = append(args, "hash_types", fmt.Sprintf("0x%x", a.HashTypes))
	}
	return args
}

// NewDropAction creates a new DropAction
func NewDropAction() *DropAction {
	return &DropAction{}
}

// DropAction drops matched traffic
type DropAction struct{}

// Type implements Action interface
func (a *DropAction) Type() ActionType { return ActionTypeDrop }

// Equals implements Action interface
func (a *DropAction) Equals(other Action) bool {
	_, ok := other.(*DropAction)
	return ok
}

// GenCmdLineArgs implements CmdLineGenerator interface
func (a *DropAction) GenCmdLineArgs() []string {
	return []string{"action", "drop"}
}

// NewCountAction creates a new CountAction
func NewCountAction() *CountAction {
	return &CountAction{}
}

// CountAction counts matched traffic without affecting its steering
type CountAction struct{}

// Type implements Action interface
func (a *CountAction) Type() ActionType { return ActionTypeCount }

// Equals implements Action interface
func (a *CountAction) Equals(other Action) bool {
	_, ok := other.(*CountAction)
	return ok
}

// GenCmdLineArgs implements CmdLineGenerator interface
func (a *CountAction) GenCmdLineArgs() []string {
	return []string{"action", "count"}
}

// NewVFAction creates a new VFAction redirecting to the given virtual function
func NewVFAction(id uint32) *VFAction {
	return &VFAction{ID: id}
}

// VFAction redirects matched traffic to a virtual function. combined with a
// tunnel matcher it redirects the whole tunnel type.
type VFAction struct {
	ID uint32
}

// Type implements Action interface
func (a *VFAction) Type() ActionType { return ActionTypeVF }

// Equals implements Action interface
func (a *VFAction) Equals(other Action) bool {
	o, ok := other.(*VFAction)
	return ok && a.ID == o.ID
}

// GenCmdLineArgs implements CmdLineGenerator interface
func (a *VFAction) GenCmdLineArgs() []string {
	return []string{"action", "vf", strconv.FormatUint(uint64(a.ID), 10)}
}

// Builders

// NewRSSActionBuilder returns a new RSSActionBuilder
func NewRSSActionBuilder() *RSSActionBuilder {
	return &RSSActionBuilder{rssAction: RSSAction{Queues: make([]uint32, 0)}}
}

// RSSActionBuilder is an RSSAction builder
type RSSActionBuilder struct {
	rssAction RSSAction
}

// WithQueue adds a queue index to the RSS queue set
func (rb *RSSActionBuilder) WithQueue(q uint32) *RSSActionBuilder {
	rb.rssAction.Queues = append(rb.rssAction.Queues, q)
	return rb
}

// WithHashTypes sets the RSS hash-type mask
func (rb *RSSActionBuilder) WithHashTypes(ht uint32) *RSSActionBuilder {
	rb.rssAction.HashTypes = ht
	return rb
}

// WithKey sets the RSS hash key
func (rb *RSSActionBuilder) WithKey(key []byte) *RSSActionBuilder {
	rb.rssAction.Key = key
	return rb
}

// Build builds and returns a new RSSAction instance
// Note: calling Build() multiple times will not return a completely
// new object on each call. that is, pointer/slice/map types will not be deep copied.
// to create several objects, different builders should be used.
func (rb *RSSActionBuilder) Build() *RSSAction {
	return &RSSAction{
		Queues:    rb.rssAction.Queues,
		HashTypes: rb.rssAction.HashTypes,
		Key:       rb.rssAction.Key,
	}
}
