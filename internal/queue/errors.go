package queue

import "errors"

// ErrQueueClosed is returned when trying to enqueue to a closed queue
var ErrQueueClosed = errors.New("queue is closed")

// ErrDuplicateJob is returned by a handler for a job that is already being processed elsewhere
var ErrDuplicateJob = errors.New("job is already being processed")
