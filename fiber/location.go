package fiber

import (
	"fmt"
	goruntime "runtime"
)

// SourceLocation is a source position captured at a fiber's creation or at
// a spawn/await site, used to compose cross-fiber traces (spec §3, §7).
type SourceLocation struct {
	File string
	Line int
	Func string
}

func (l SourceLocation) String() string {
	if l.File == "" {
		return "<unknown>"
	}
	return fmt.Sprintf("%s:%d (%s)", l.File, l.Line, l.Func)
}

// captureLocation walks up `skip` frames from its own caller and records
// the call site. skip=0 means "my immediate caller".
func captureLocation(skip int) SourceLocation {
	pc, file, line, ok := goruntime.Caller(skip + 1)
	if !ok {
		return SourceLocation{}
	}
	loc := SourceLocation{File: file, Line: line}
	if fn := goruntime.FuncForPC(pc); fn != nil {
		loc.Func = fn.Name()
	}
	return loc
}
