package gatewayws

import (
	"context"

	"github.com/pkg/errors"
)

type (
	// EventSink consumes the DISPATCH events of a session, in arrival order. It is called from the
	// session loop, so a slow sink delays every later envelope.
	EventSink interface {
		Dispatch(ctx context.Context, e DispatchEvent) error
	}

	EventSinkFunc func(ctx context.Context, e DispatchEvent) error

	// LogSink writes every event to the logger.
	LogSink struct {
		logger Logger
	}

	multiSink []EventSink
)

func (f EventSinkFunc) Dispatch(ctx context.Context, e DispatchEvent) error {
	return f(ctx, e)
}

func NewLogSink(logger Logger) LogSink {
	return LogSink{logger: logger.WithField("type", "log_sink")}
}

func (s LogSink) Dispatch(_ context.Context, e DispatchEvent) error {
	s.logger.Infof("received DISPATCH payload for user ID %s of type %s. Data is: %s",
		e.UserID, e.EventType, e.Data)
	return nil
}

// MultiSink hands every event to each sink in order. All sinks are tried even if one fails.
func MultiSink(sinks ...EventSink) EventSink {
	return multiSink(sinks)
}

func (m multiSink) Dispatch(ctx context.Context, e DispatchEvent) error {
	var errs []error
	for _, s := range m {
		if err := s.Dispatch(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	default:
		return errors.Errorf("%d sinks failed, first: %s", len(errs), errs[0])
	}
}
