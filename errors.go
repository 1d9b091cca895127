package gatewayws

import (
	"fmt"

	"github.com/fasthttp/websocket"
	"github.com/pkg/errors"
)

var (
	ErrConnectionClosed   = errors.New("connection has been closed")
	ErrCannotConnect      = errors.New("connection cannot be established")
	ErrTerminated         = errors.New("program exit")
	ErrRateLimit          = errors.New("rate limit exceeded")
	ErrAuth               = errors.New("authentication failed")
	ErrParse              = errors.New("malformed envelope")
	ErrInvalidState       = errors.New("invalid session state")
	ErrMissingCredentials = errors.New("missing credentials")
)

// CloseError carries the close frame the peer sent, or the one synthesized by the transport
// when the connection dropped without one.
type CloseError struct {
	Code int
	Text string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("%s: code %d (%s)", ErrConnectionClosed, e.Code, e.Text)
}

func (e *CloseError) Unwrap() error { return ErrConnectionClosed }

// Abnormal reports whether the close code is anything other than a normal closure or going away.
func (e *CloseError) Abnormal() bool {
	return e.Code != websocket.CloseNormalClosure && e.Code != websocket.CloseGoingAway
}

func newCloseError(err error) error {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return &CloseError{Code: ce.Code, Text: ce.Text}
	}
	return &CloseError{Code: websocket.CloseAbnormalClosure, Text: err.Error()}
}
