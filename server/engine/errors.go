package engine

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidCard    = errors.New("invalid card")
	ErrInvalidAction  = errors.New("invalid action")
	ErrIllegalHistory = errors.New("illegal history")
)

// InvalidStateError marks engine misuse. It is raised with panic, never returned
// to callers as a recoverable condition.
type InvalidStateError string

func (e InvalidStateError) Error() string { return "invalid state: " + string(e) }

func invalidState(format string, args ...any) {
	panic(InvalidStateError(fmt.Sprintf(format, args...)))
}
