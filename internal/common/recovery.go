package common

import (
	"fmt"
	"runtime/debug"
)

// Recover recovers from a panic and returns it as an error with the stack
// trace attached. Intended to be called from a deferred function.
func Recover() error {
	if r := recover(); r != nil {
		stack := debug.Stack()

		var err error
		switch v := r.(type) {
		case error:
			err = v
		case string:
			err = fmt.Errorf("%s", v)
		default:
			err = fmt.Errorf("panic: %v", v)
		}

		return fmt.Errorf("%w\nStack trace:\n%s", err, stack)
	}
	return nil
}

// SafeFunc wraps a function with panic recovery
func SafeFunc(fn func() error) error {
	var err error
	func() {
		defer func() {
			if panicErr := Recover(); panicErr != nil {
				err = panicErr
			}
		}()
		err = fn()
	}()
	return err
}

// SafeGo runs a function in a goroutine with panic recovery. The onPanic
// callback receives the recovered error; it may be nil.
func SafeGo(fn func(), onPanic func(error)) {
	go func() {
		defer func() {
			if err := Recover(); err != nil && onPanic != nil {
				onPanic(err)
			}
		}()
		fn()
	}()
}
