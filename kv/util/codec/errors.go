package codec

import (
	"fmt"

	"github.com/pingcap/errors"
)

// MalformedEncodingError is returned when a fixed-field payload is truncated, carries lengths that do not
// match the remaining bytes, or holds a value outside its domain.
type MalformedEncodingError struct {
	What   string
	Offset int
	Reason string
}

func (e *MalformedEncodingError) Error() string {
	return fmt.Sprintf("malformed %s at offset %d: %s", e.What, e.Offset, e.Reason)
}

// IsMalformed reports whether err (or its cause) is a MalformedEncodingError.
func IsMalformed(err error) bool {
	_, ok := errors.Cause(err).(*MalformedEncodingError)
	return ok
}
