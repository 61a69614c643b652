// Provide error wrapper knowing where it was created.
//
// Usage:
//
// ```
// wrapped := xe.Wrap(err)
// ```
//
// returns new error object wraps `err`.
//
// `wrapped` knows filename, line, and the name of function where itself is created.
//
// When you read message of this, replace
//
//	s/<-/\n/
//
// and it gives you "stacks" of where you marks.
package xe

import (
	"fmt"
	"runtime"
)

type ErrWithCaller struct {
	file     string
	line     int
	funcname string
	note     string
	err      error
}

func (e *ErrWithCaller) File() string {
	return e.file
}

func (e *ErrWithCaller) Line() int {
	return e.line
}

func (e *ErrWithCaller) Error() string {
	if e.note == "" {
		return fmt.Sprintf(`@ %s "%s" l%d <- %s`, e.funcname, e.file, e.line, e.err.Error())
	}
	return fmt.Sprintf(`@ %s "%s" l%d (%s) <- %s`, e.funcname, e.file, e.line, e.note, e.err.Error())
}

func (e *ErrWithCaller) Unwrap() error {
	return e.err
}

// Wrap error with the location where Wrap is called.
func Wrap(err error) error {
	return wrap("", err, 1)
}

// Wrap error with a short note.
func WrapWithNote(note string, err error) error {
	return wrap(note, err, 1)
}

func wrap(note string, err error, depth int) error {
	pc, file, line, ok := runtime.Caller(depth + 1)
	if !ok {
		return err
	}
	funcname := "(unknown)"
	if f := runtime.FuncForPC(pc); f != nil {
		funcname = f.Name()
	}
	return &ErrWithCaller{
		file:     file,
		line:     line,
		funcname: funcname,
		note:     note,
		err:      err,
	}
}
