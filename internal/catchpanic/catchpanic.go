package catchpanic

import (
	"fmt"
	"runtime"

	"fknsrs.biz/p/catalogfill/internal/stackutil"
)

// PanicError is what a recovered panic turns into. Stack is captured at the
// point of recovery, so the panicking frame is near the top.
type PanicError struct {
	Value interface{}
	Stack []runtime.Frame
}

func (e *PanicError) Error() string {
	if err, ok := e.Value.(error); ok {
		return fmt.Sprintf("catchpanic.Catch: %s", err.Error())
	}

	return fmt.Sprintf("catchpanic.Catch: %v", e.Value)
}

func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}

	return nil
}

func (e *PanicError) StackLines() []string {
	return stackutil.FormatStack(e.Stack)
}

func Catch(fn func()) (err error) {
	defer func() {
		if ex := recover(); ex != nil {
			err = &PanicError{Value: ex, Stack: stackutil.GetStack(32, 1)}
		}
	}()

	fn()

	return
}

func CatchErr0(fn func() error) error {
	var err error

	if err1 := Catch(func() { err = fn() }); err1 != nil {
		return err1
	}

	return err
}

func CatchErr1[T any](fn func() (T, error)) (T, error) {
	var res T
	var err error

	if err1 := Catch(func() { res, err = fn() }); err1 != nil {
		err = err1
	}

	return res, err
}
