package daemon

import (
	"errors"
)

// ErrNilConfig is returned when the daemon is created without a config.
var ErrNilConfig = errors.New("config is nil")
