// Package hooks provides the hook-type enumeration and the priority-ordered
// subscriber table consulted at every engine dispatch point.
package hooks

import "fmt"

// Type identifies one dispatch point in engine execution.
type Type int

// Hook types. The order is significant only for listings.
const (
	LoadFile Type = iota
	CallFunction
	QueueEvent
	DrainEvents
	UpdateNetworkTime
	ObjectDestroy
	SetupAnalyzerTree
	LogInit
	LogWrite
	Reporter
	MetaHookPre
	MetaHookPost

	// NumTypes is the number of hook types; not a valid hook itself.
	NumTypes
)

var typeNames = [NumTypes]string{
	LoadFile:          "LoadFile",
	CallFunction:      "CallFunction",
	QueueEvent:        "QueueEvent",
	DrainEvents:       "DrainEvents",
	UpdateNetworkTime: "UpdateNetworkTime",
	ObjectDestroy:     "ObjectDestroy",
	SetupAnalyzerTree: "SetupAnalyzerTree",
	LogInit:           "LogInit",
	LogWrite:          "LogWrite",
	Reporter:          "Reporter",
	MetaHookPre:       "MetaHookPre",
	MetaHookPost:      "MetaHookPost",
}

// AllTypes lists every hook type in enumeration order.
var AllTypes = func() []Type {
	out := make([]Type, NumTypes)
	for i := range out {
		out[i] = Type(i)
	}
	return out
}()

// Valid reports whether t names a real hook.
func (t Type) Valid() bool { return t >= 0 && t < NumTypes }

func (t Type) String() string {
	if !t.Valid() {
		return fmt.Sprintf("Hook(%d)", int(t))
	}
	return typeNames[t]
}

// MarshalText renders t by name.
func (t Type) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// ParseType resolves a hook name as returned by String.
func ParseType(name string) (Type, bool) {
	for i, n := range typeNames {
		if n == name {
			return Type(i), true
		}
	}
	return 0, false
}

// Registration is one subscriber of a hook type.
type Registration[K comparable] struct {
	Priority int
	Key      K
}

// TypePriority pairs a hook type with the priority a subscriber holds on it.
type TypePriority struct {
	Type     Type `json:"type"`
	Priority int  `json:"priority"`
}

// Table keeps, per hook type, subscribers ordered by descending priority.
// Subscribers with equal priority run in the order they were enabled.
//
// A slot is nil exactly when nobody subscribes to that hook, so Has is a
// single comparison. Table is not safe for concurrent mutation; it is
// written during start-up and read during dispatch.
type Table[K comparable] struct {
	lists [NumTypes][]Registration[K]
}

// NewTable creates an empty hook table.
func NewTable[K comparable]() *Table[K] {
	return &Table[K]{}
}

// Enable subscribes key to t at the given priority. If key already
// subscribes to t it is moved to the position the new priority implies.
func (tb *Table[K]) Enable(t Type, key K, priority int) {
	if !t.Valid() {
		return
	}
	tb.remove(t, key)

	list := tb.lists[t]
	pos := len(list)
	for i, r := range list {
		if r.Priority < priority {
			pos = i
			break
		}
	}

	next := make([]Registration[K], 0, len(list)+1)
	next = append(next, list[:pos]...)
	next = append(next, Registration[K]{Priority: priority, Key: key})
	next = append(next, list[pos:]...)
	tb.lists[t] = next
}

// Disable unsubscribes key from t. It reports whether key was subscribed.
func (tb *Table[K]) Disable(t Type, key K) bool {
	if !t.Valid() {
		return false
	}
	return tb.remove(t, key)
}

func (tb *Table[K]) remove(t Type, key K) bool {
	list := tb.lists[t]
	for i, r := range list {
		if r.Key != key {
			continue
		}
		if len(list) == 1 {
			tb.lists[t] = nil
			return true
		}
		filtered := make([]Registration[K], 0, len(list)-1)
		filtered = append(filtered, list[:i]...)
		filtered = append(filtered, list[i+1:]...)
		tb.lists[t] = filtered
		return true
	}
	return false
}

// Has reports whether at least one subscriber is enabled for t.
func (tb *Table[K]) Has(t Type) bool {
	return t.Valid() && tb.lists[t] != nil
}

// Subscribers returns t's subscribers in dispatch order. The slice is
// shared with the table; callers must not modify it. Mutations replace the
// slot rather than editing it, so a dispatch loop ranging over a returned
// slice is unaffected by subscribers enabling or disabling hooks.
func (tb *Table[K]) Subscribers(t Type) []Registration[K] {
	if !t.Valid() {
		return nil
	}
	return tb.lists[t]
}

// Count returns the number of subscribers for t.
func (tb *Table[K]) Count(t Type) int {
	if !t.Valid() {
		return 0
	}
	return len(tb.lists[t])
}

// Types returns the hook types that have at least one subscriber.
func (tb *Table[K]) Types() []Type {
	var out []Type
	for i, l := range tb.lists {
		if l != nil {
			out = append(out, Type(i))
		}
	}
	return out
}

// HooksFor returns every hook type key subscribes to, with its priority.
func (tb *Table[K]) HooksFor(key K) []TypePriority {
	var out []TypePriority
	for i, l := range tb.lists {
		for _, r := range l {
			if r.Key == key {
				out = append(out, TypePriority{Type: Type(i), Priority: r.Priority})
				break
			}
		}
	}
	return out
}

// DisableAll removes key from every hook type.
func (tb *Table[K]) DisableAll(key K) {
	for i := range tb.lists {
		tb.remove(Type(i), key)
	}
}

// Reset drops all subscribers.
func (tb *Table[K]) Reset() {
	for i := range tb.lists {
		tb.lists[i] = nil
	}
}
