package httpserver

import "time"

// DefaultShutdownTimeout controls how long to wait for graceful shutdowns
// when the configuration does not say.
const DefaultShutdownTimeout = 10 * time.Second
