package gatewayws

import (
	"context"
)

type (
	CloseChan chan struct{}

	// Channel is the bidirectional message pipe a Session owns for its whole lifetime.
	Channel interface {
		// Open establishes the connection. Received frames are pushed to the recv channel the
		// Channel was created with, in arrival order.
		Open(ctx context.Context) error
		// Send queues a frame for writing. It is safe for concurrent use.
		Send(m Message) error
		// Close releases the connection. Subsequent calls have no effect.
		Close()
		// CloseChan is closed once the connection is gone, whichever side closed it.
		CloseChan() CloseChan
		// CloseErr explains why the connection was closed.
		CloseErr() error
	}

	ChannelFactory func(ctx context.Context, recv chan<- Message) Channel
)
