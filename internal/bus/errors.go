package bus

import "errors"

// ErrBusClosed indicates an operation on a bus that has been shut down.
var ErrBusClosed = errors.New("message bus is closed")
