package plugin

// Engine payloads threaded through hooks. The core never inspects them
// beyond rendering them for meta-hooks.
type (
	// Func is a script function, event handler, or hook body.
	Func interface{ Name() string }

	// Event is a queued script event.
	Event interface{ Name() string }

	// Frame is the interpreter frame a call is made from.
	Frame any

	// Val is a script value.
	Val any

	// Connection is a connection whose analyzer tree is being built.
	Connection any

	// WriterInfo describes a log writer instance.
	WriterInfo any

	// Value is one field value of a log line.
	Value any
)

// Args is a function call's argument list.
type Args []Val

// Field describes one column of a log stream.
type Field struct {
	Name string
	Type string
}

// Location is a script source range.
type Location struct {
	File      string
	FirstLine int
	LastLine  int
}

// Report is one reporter call passed through the Reporter hook.
type Report struct {
	Prefix    string
	Event     string
	Conn      Connection
	Addl      []Val
	Location  bool
	Location1 *Location
	Location2 *Location
	Time      bool
	Message   string
}

// LoadType is the kind of file the engine is about to load.
type LoadType int

// Load types.
const (
	LoadScript LoadType = iota
	LoadSignatures
	LoadPlugin
)

func (t LoadType) String() string {
	switch t {
	case LoadScript:
		return "script"
	case LoadSignatures:
		return "signatures"
	case LoadPlugin:
		return "plugin"
	default:
		return "unknown"
	}
}

// LoadResult is the outcome of the LoadFile hook.
type LoadResult int

// Load results. Any value >= LoadFailed means a plugin claimed the file.
const (
	LoadNotHandled LoadResult = -1
	LoadFailed     LoadResult = 0
	LoadOK         LoadResult = 1
)

// Claimed reports whether a plugin took over the file.
func (r LoadResult) Claimed() bool { return r >= LoadFailed }
