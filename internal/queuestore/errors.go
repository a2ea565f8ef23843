package queuestore

import "errors"

// ErrTaskNotFound is returned by path lookups for an id that was never
// inserted. Callers at the HTTP boundary translate it to 404.
var ErrTaskNotFound = errors.New("queuestore: task not found")

// ErrWorkerNotFound names a lookup against a worker that was never
// registered. Heartbeat and UpdateStats treat unknown names as a no-op and
// do not return it.
var ErrWorkerNotFound = errors.New("queuestore: worker not found")
