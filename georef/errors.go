package georef

import "errors"

// ErrUnknownSensor is returned by every engine operation keyed by
// sensor name when that name was not registered at construction (§7
// UNKNOWN_SENSOR).
var ErrUnknownSensor = errors.New("georef: unknown sensor")
