package syncengine

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

var (
	errMissingStore  = errors.New("local store is required")
	errMissingRemote = errors.New("remote client is required")
	noOpLogger       = zap.NewNop()

	// ErrBusy is returned by TrySync while another cycle is in flight.
	ErrBusy = errors.New("syncengine: sync already in progress")
	// ErrPushIncomplete reports that the push phase left records dirty.
	ErrPushIncomplete = errors.New("syncengine: push left records pending")
)

type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opPusherNew      = "syncengine.pusher.new"
	opPullerNew      = "syncengine.puller.new"
	opCoordinatorNew = "syncengine.coordinator.new"
	opPush           = "syncengine.push"
	opPull           = "syncengine.pull"
	opInspect        = "syncengine.inspect"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

func logError(logger *zap.Logger, operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	logger.Error("sync engine error", attrs...)
}
