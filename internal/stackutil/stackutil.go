package stackutil

import (
	"fmt"
	"runtime"
)

// GetStack returns up to depth frames above its caller, leaving out the
// innermost skip of them.
func GetStack(depth, skip int) []runtime.Frame {
	pc := make([]uintptr, depth)

	// 0 is runtime.Callers, 1 is GetStack
	n := runtime.Callers(skip+2, pc)
	if n == 0 {
		return []runtime.Frame{}
	}

	frames := runtime.CallersFrames(pc[:n])

	a := make([]runtime.Frame, 0, n)
	for {
		frame, more := frames.Next()
		a = append(a, frame)
		if !more {
			break
		}
	}

	return a
}

func FormatStack(a []runtime.Frame) []string {
	r := make([]string, len(a))
	for i, e := range a {
		r[i] = FormatStackFrame(e)
	}
	return r
}

func FormatStackFrame(f runtime.Frame) string {
	return fmt.Sprintf("%s:%d: %s", f.File, f.Line, f.Function)
}
