package intercept

import (
	"errors"
	"fmt"
)

// ErrBlocked marks calls rejected by the engine, as opposed to genuine
// network failures.
var ErrBlocked = errors.New("blocked by exfilguard: Telegram exfiltration")

// BlockedError describes a rejected call. It wraps ErrBlocked.
type BlockedError struct {
	Surface  Surface
	URL      string
	Method   string
	Evidence string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("%v (%s %s)", ErrBlocked, e.Method, e.URL)
}

func (e *BlockedError) Unwrap() error {
	return ErrBlocked
}
