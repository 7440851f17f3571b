package plugin

import "fmt"

// ComponentKind tags the capability a component provides.
type ComponentKind int

// Component kinds.
const (
	ComponentReader ComponentKind = iota
	ComponentWriter
	ComponentAnalyzer
	ComponentFileAnalyzer
	ComponentIOSource
	ComponentPacketSource
	ComponentPacketDumper
	ComponentBifSet
)

var componentKindNames = map[ComponentKind]string{
	ComponentReader:       "reader",
	ComponentWriter:       "writer",
	ComponentAnalyzer:     "analyzer",
	ComponentFileAnalyzer: "file analyzer",
	ComponentIOSource:     "iosource",
	ComponentPacketSource: "packet source",
	ComponentPacketDumper: "packet dumper",
	ComponentBifSet:       "bif set",
}

func (k ComponentKind) String() string {
	if n, ok := componentKindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("component(%d)", int(k))
}

// Component is a capability contributed by a plugin. The plugin owns it.
type Component interface {
	Kind() ComponentKind
	Name() string
}

// BaseComponent is a minimal Component. Concrete components embed it.
type BaseComponent struct {
	kind ComponentKind
	name string
}

// NewComponent returns a component of the given kind.
func NewComponent(kind ComponentKind, name string) *BaseComponent {
	return &BaseComponent{kind: kind, name: name}
}

// Kind implements Component.
func (c *BaseComponent) Kind() ComponentKind { return c.kind }

// Name implements Component.
func (c *BaseComponent) Name() string { return c.name }

// Describe renders the component as "[kind] name".
func Describe(c Component) string {
	return fmt.Sprintf("[%s] %s", c.Kind(), c.Name())
}
