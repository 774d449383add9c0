package errors

import "fmt"

var (
	ErrWorkerPanic       = fmt.Errorf("worker panic")
	ErrPersistence       = fmt.Errorf("message could not be persisted")
	ErrAlreadyInRoom     = fmt.Errorf("connection already joined a room")
	ErrNotInRoom         = fmt.Errorf("connection has not joined any room")
	ErrDelivery          = fmt.Errorf("event could not be delivered")
	ErrUnknownConnection = fmt.Errorf("unknown connection")
	ErrInvalidPayload    = fmt.Errorf("invalid payload")
	ErrSinkClosed        = fmt.Errorf("sink is closed")
	ErrRateLimited       = fmt.Errorf("too many messages")
)
