// Package plugin is the extension-management core: it keeps the set of
// compiled-in and dynamically loaded plugins, drives their lifecycle, and
// dispatches engine hooks to the plugins that subscribed to them.
//
// Plugins register themselves from an init function:
//
//	func init() { plugin.Register(&Plugin{}) }
//
// which works the same whether the package is linked into the binary or
// built with -buildmode=plugin and loaded at run time.
package plugin

import (
	"context"
	"fmt"

	"github.com/soyeahso/netplug/internal/hooks"
)

// Plugin is the interface every extension implements. Lifecycle callbacks
// and hook implementations are opt-in through the interfaces below.
// Implementations should be pointers; the manager ignores a plugin whose
// dynamic type is not comparable.
type Plugin interface {
	// Name returns the plugin's identity, conventionally "Namespace::Name".
	Name() string

	// Description returns a one-line human-readable summary.
	Description() string

	// Version returns the plugin version.
	Version() Version

	// Components returns the capabilities the plugin contributes.
	Components() []Component
}

// Version is a plugin's major.minor version.
type Version struct {
	Major int
	Minor int
}

// IsSet reports whether any version component was given.
func (v Version) IsSet() bool { return v.Major != 0 || v.Minor != 0 }

func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// PreScriptIniter is implemented by plugins that need to run before any
// script is parsed.
type PreScriptIniter interface {
	InitPreScript(ctx context.Context, m *Manager) error
}

// PostScriptIniter is implemented by plugins that need to run once all
// scripts have been parsed.
type PostScriptIniter interface {
	InitPostScript(ctx context.Context, m *Manager) error
}

// Finisher is implemented by plugins that release resources at shutdown.
type Finisher interface {
	Done(ctx context.Context) error
}

// LoadFileHook lets a plugin take over loading an input file.
type LoadFileHook interface {
	HookLoadFile(typ LoadType, file, resolved string) LoadResult
}

// CallFunctionHook lets a plugin intercept a script function call. args
// may be modified in place. Returning handled=true makes result final.
type CallFunctionHook interface {
	HookCallFunction(f Func, parent Frame, args *Args) (handled bool, result Val)
}

// QueueEventHook lets a plugin take over queuing an event.
type QueueEventHook interface {
	HookQueueEvent(ev Event) bool
}

// DrainEventsHook is notified when the event queue is drained.
type DrainEventsHook interface {
	HookDrainEvents()
}

// UpdateNetworkTimeHook is notified when network time advances.
type UpdateNetworkTimeHook interface {
	HookUpdateNetworkTime(networkTime float64)
}

// ObjectDestroyHook is notified when an object a plugin asked about is
// destroyed.
type ObjectDestroyHook interface {
	HookObjectDestroy(obj any)
}

// SetupAnalyzerTreeHook may extend a connection's initial analyzer tree.
type SetupAnalyzerTreeHook interface {
	HookSetupAnalyzerTree(conn Connection)
}

// LogInitHook is notified once per instantiated log writer.
type LogInitHook interface {
	HookLogInit(writer, filter string, local, remote bool, info WriterInfo, fields []Field)
}

// LogWriteHook may modify or suppress a log line. Returning false drops it.
type LogWriteHook interface {
	HookLogWrite(writer, filter string, info WriterInfo, fields []Field, vals []Value) bool
}

// ReporterHook may suppress the script-level event of a reporter call.
type ReporterHook interface {
	HookReporter(r Report) bool
}

// MetaHook observes every hook dispatch. Enable it via hooks.MetaHookPre
// and/or hooks.MetaHookPost.
type MetaHook interface {
	MetaHookPre(hook hooks.Type, args Arguments)
	MetaHookPost(hook hooks.Type, args Arguments, result Argument)
}

// implementsHook reports whether p provides the callback for t.
func implementsHook(p Plugin, t hooks.Type) bool {
	var ok bool
	switch t {
	case hooks.LoadFile:
		_, ok = p.(LoadFileHook)
	case hooks.CallFunction:
		_, ok = p.(CallFunctionHook)
	case hooks.QueueEvent:
		_, ok = p.(QueueEventHook)
	case hooks.DrainEvents:
		_, ok = p.(DrainEventsHook)
	case hooks.UpdateNetworkTime:
		_, ok = p.(UpdateNetworkTimeHook)
	case hooks.ObjectDestroy:
		_, ok = p.(ObjectDestroyHook)
	case hooks.SetupAnalyzerTree:
		_, ok = p.(SetupAnalyzerTreeHook)
	case hooks.LogInit:
		_, ok = p.(LogInitHook)
	case hooks.LogWrite:
		_, ok = p.(LogWriteHook)
	case hooks.Reporter:
		_, ok = p.(ReporterHook)
	case hooks.MetaHookPre, hooks.MetaHookPost:
		_, ok = p.(MetaHook)
	}
	return ok
}

// Base implements the identity half of Plugin. Embed it and fill the
// fields, then add hook methods as needed.
type Base struct {
	PluginName        string
	PluginDescription string
	PluginVersion     Version

	components []Component
}

// Name implements Plugin.
func (b *Base) Name() string { return b.PluginName }

// Description implements Plugin.
func (b *Base) Description() string { return b.PluginDescription }

// Version implements Plugin.
func (b *Base) Version() Version { return b.PluginVersion }

// Components implements Plugin.
func (b *Base) Components() []Component { return b.components }

// AddComponent attaches a component to the plugin.
func (b *Base) AddComponent(c Component) {
	b.components = append(b.components, c)
}
