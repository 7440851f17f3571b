package plugin

import (
	"strings"
	"sync"
)

// BifInitFunc attaches a plugin's built-in functions once the bif stage
// runs. It receives the owning plugin and a registrar bound to it.
type BifInitFunc func(p Plugin, r BifRegistrar)

// BifItemKind classifies a built-in item.
type BifItemKind int

// Built-in item kinds.
const (
	BifFunction BifItemKind = iota
	BifEvent
	BifConstant
	BifGlobal
	BifType
)

func (k BifItemKind) String() string {
	switch k {
	case BifFunction:
		return "function"
	case BifEvent:
		return "event"
	case BifConstant:
		return "constant"
	case BifGlobal:
		return "global"
	case BifType:
		return "type"
	default:
		return "unknown"
	}
}

// MarshalText renders k by name.
func (k BifItemKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// BifItem is one built-in a plugin defines.
type BifItem struct {
	ID   string      `json:"id"`
	Kind BifItemKind `json:"kind"`
}

// BifRegistrar receives the items a BifInitFunc defines.
type BifRegistrar interface {
	AddBifItem(id string, kind BifItemKind)
}

// Registry collects plugin and bif registrations. The process-wide
// instance is created on first use, so Register and RegisterBif are safe to
// call from any init function regardless of package initialization order.
type Registry struct {
	mu      sync.Mutex
	plugins []Plugin
	bifs    map[string][]BifInitFunc

	// non-nil while a dynamic module is being opened
	scope *[]Plugin
}

// NewRegistry creates an empty registry. Production code uses the process
// registry through Register; tests build private ones.
func NewRegistry() *Registry {
	return &Registry{bifs: make(map[string][]BifInitFunc)}
}

var (
	processOnce     sync.Once
	processRegistry *Registry
)

// DefaultRegistry returns the process-wide registry, creating it if needed.
func DefaultRegistry() *Registry {
	processOnce.Do(func() {
		processRegistry = NewRegistry()
	})
	return processRegistry
}

// Register adds p to the process registry. Registering the same plugin
// twice is a programming error; both registrations are kept.
func Register(p Plugin) {
	DefaultRegistry().Register(p)
}

// RegisterBif queues a bif initializer for the named plugin in the process
// registry. A plugin may queue several.
func RegisterBif(pluginName string, fn BifInitFunc) {
	DefaultRegistry().RegisterBif(pluginName, fn)
}

// Register appends p in registration order.
func (r *Registry) Register(p Plugin) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.plugins = append(r.plugins, p)
	if r.scope != nil {
		*r.scope = append(*r.scope, p)
	}
}

// RegisterBif queues fn under the plugin name, matched case-insensitively.
func (r *Registry) RegisterBif(pluginName string, fn BifInitFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := strings.ToLower(pluginName)
	r.bifs[key] = append(r.bifs[key], fn)
}

// Len returns the number of registrations so far.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.plugins)
}

// Plugins returns all registered plugins in registration order.
func (r *Registry) Plugins() []Plugin {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Plugin, len(r.plugins))
	copy(out, r.plugins)
	return out
}

// since returns the registrations from index n onward.
func (r *Registry) since(n int) []Plugin {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n >= len(r.plugins) {
		return nil
	}
	out := make([]Plugin, len(r.plugins)-n)
	copy(out, r.plugins[n:])
	return out
}

// BifInits returns the initializers queued for a plugin name.
func (r *Registry) BifInits(pluginName string) []BifInitFunc {
	r.mu.Lock()
	defer r.mu.Unlock()
	fns := r.bifs[strings.ToLower(pluginName)]
	out := make([]BifInitFunc, len(fns))
	copy(out, fns)
	return out
}

// capture runs open and returns the plugins registered while it ran.
func (r *Registry) capture(open func() error) ([]Plugin, error) {
	var got []Plugin
	r.mu.Lock()
	r.scope = &got
	r.mu.Unlock()

	err := open()

	r.mu.Lock()
	r.scope = nil
	r.mu.Unlock()
	return got, err
}
