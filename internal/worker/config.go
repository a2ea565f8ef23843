package worker

import "time"

// Config holds a worker's startup flags (spec §6's `worker` subcommand).
type Config struct {
	Coordinator  string
	CPUs         int
	BatchSize    int
	LocalPDFDir  string // empty means "use the file proxy"
	LocalTextDir string // empty means "use the file proxy"
	Name         string
}

const (
	registerRetryInterval  = 5 * time.Second
	idlePollSleep          = 5 * time.Second
	connectionErrorSleep   = 10 * time.Second
	extractionUnitTimeout  = 90 * time.Second
	fileProxyTimeout       = 120 * time.Second
	errorMessageTruncation = 200
)
