package providers

import "time"

const (
	// shutdownTimeout is the maximum time to wait for graceful shutdown of services.
	shutdownTimeout = 30 * time.Second

	// retentionInterval is how often the journal is pruned.
	retentionInterval = time.Hour
)
