package eventstream

import "errors"

// ErrNilTurnEvent indicates a nil event was handed to a publisher.
var ErrNilTurnEvent = errors.New("nil turn event")
