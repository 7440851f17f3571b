package plugin

import (
	"fmt"
	"strconv"
	"strings"
)

// ArgKind is the type of value an Argument carries.
type ArgKind int

// Argument kinds.
const (
	ArgVoid ArgKind = iota
	ArgBool
	ArgInt
	ArgDouble
	ArgString
	ArgFunc
	ArgEvent
	ArgArgs
	ArgFrame
	ArgConn
	ArgObject
	ArgWriterInfo
	ArgFields
	ArgValues
	ArgLocation
	ArgFuncResult
)

// Argument is one hook argument or result as seen by meta-hooks.
type Argument struct {
	Kind  ArgKind
	Value any
}

// Arguments is a hook's argument list.
type Arguments []Argument

// FuncResult is the CallFunction hook's result.
type FuncResult struct {
	Handled bool
	Result  Val
}

// VoidArg is the result of hooks that return nothing.
func VoidArg() Argument { return Argument{Kind: ArgVoid} }

// BoolArg wraps a bool.
func BoolArg(b bool) Argument { return Argument{Kind: ArgBool, Value: b} }

// IntArg wraps an int.
func IntArg(i int) Argument { return Argument{Kind: ArgInt, Value: i} }

// DoubleArg wraps a float64.
func DoubleArg(d float64) Argument { return Argument{Kind: ArgDouble, Value: d} }

// StringArg wraps a string.
func StringArg(s string) Argument { return Argument{Kind: ArgString, Value: s} }

// FuncArg wraps a function.
func FuncArg(f Func) Argument { return Argument{Kind: ArgFunc, Value: f} }

// EventArg wraps an event.
func EventArg(ev Event) Argument { return Argument{Kind: ArgEvent, Value: ev} }

// ArgsArg wraps a call's argument list.
func ArgsArg(a *Args) Argument { return Argument{Kind: ArgArgs, Value: a} }

// FrameArg wraps an interpreter frame.
func FrameArg(f Frame) Argument { return Argument{Kind: ArgFrame, Value: f} }

// ConnArg wraps a connection.
func ConnArg(c Connection) Argument { return Argument{Kind: ArgConn, Value: c} }

// ObjectArg wraps an arbitrary engine object.
func ObjectArg(o any) Argument { return Argument{Kind: ArgObject, Value: o} }

// WriterInfoArg wraps log writer info.
func WriterInfoArg(w WriterInfo) Argument { return Argument{Kind: ArgWriterInfo, Value: w} }

// FieldsArg wraps a log field list.
func FieldsArg(f []Field) Argument { return Argument{Kind: ArgFields, Value: f} }

// ValuesArg wraps a log line's values.
func ValuesArg(v []Value) Argument { return Argument{Kind: ArgValues, Value: v} }

// LocationArg wraps a source location.
func LocationArg(l *Location) Argument { return Argument{Kind: ArgLocation, Value: l} }

// FuncResultArg wraps a CallFunction result.
func FuncResultArg(handled bool, v Val) Argument {
	return Argument{Kind: ArgFuncResult, Value: FuncResult{Handled: handled, Result: v}}
}

// Describe renders the argument for traces and debugging.
func (a Argument) Describe() string {
	switch a.Kind {
	case ArgVoid:
		return "<void>"
	case ArgBool:
		return strconv.FormatBool(a.Value.(bool))
	case ArgInt:
		return strconv.Itoa(a.Value.(int))
	case ArgDouble:
		return strconv.FormatFloat(a.Value.(float64), 'f', 6, 64)
	case ArgString:
		return strconv.Quote(a.Value.(string))
	case ArgFunc, ArgEvent:
		if n, ok := a.Value.(interface{ Name() string }); ok && n != nil {
			return n.Name()
		}
		return "<nil>"
	case ArgArgs:
		args, _ := a.Value.(*Args)
		if args == nil {
			return "()"
		}
		parts := make([]string, len(*args))
		for i, v := range *args {
			parts[i] = fmt.Sprint(v)
		}
		return "(" + strings.Join(parts, ", ") + ")"
	case ArgFields:
		fields, _ := a.Value.([]Field)
		parts := make([]string, len(fields))
		for i, f := range fields {
			parts[i] = f.Name + ":" + f.Type
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case ArgValues:
		vals, _ := a.Value.([]Value)
		parts := make([]string, len(vals))
		for i, v := range vals {
			parts[i] = fmt.Sprint(v)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case ArgLocation:
		loc, _ := a.Value.(*Location)
		if loc == nil {
			return "<no location>"
		}
		if loc.FirstLine == loc.LastLine {
			return fmt.Sprintf("%s, line %d", loc.File, loc.FirstLine)
		}
		return fmt.Sprintf("%s, lines %d-%d", loc.File, loc.FirstLine, loc.LastLine)
	case ArgFuncResult:
		r := a.Value.(FuncResult)
		if !r.Handled {
			return "<not handled>"
		}
		return fmt.Sprintf("-> %v", r.Result)
	default:
		if a.Value == nil {
			return "<nil>"
		}
		return fmt.Sprintf("<%T>", a.Value)
	}
}

// Describe renders the whole list as "(a, b, c)".
func (as Arguments) Describe() string {
	parts := make([]string, len(as))
	for i, a := range as {
		parts[i] = a.Describe()
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
