package gatewayws

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
)

// DefaultNATSSubjectPrefix roots the subjects NATSSink publishes to.
const DefaultNATSSubjectPrefix = "gatewayws.dispatch"

// natsPublisher is the part of *nats.Conn the sink needs.
type natsPublisher interface {
	PublishMsg(m *nats.Msg) error
}

// NATSSink republishes DISPATCH events as JSON to "<prefix>.<event type>", with the user ID in
// the Gateway-User header.
type NATSSink struct {
	pub    natsPublisher
	prefix string
}

func NewNATSSink(pub natsPublisher, prefix string) *NATSSink {
	if prefix == "" {
		prefix = DefaultNATSSubjectPrefix
	}
	return &NATSSink{pub: pub, prefix: strings.TrimSuffix(prefix, ".")}
}

func (s *NATSSink) Subject(eventType string) string {
	if eventType == "" {
		eventType = "unknown"
	}
	// Dots and wildcards would split or widen the subject.
	token := strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(eventType)
	return s.prefix + "." + token
}

func (s *NATSSink) Dispatch(_ context.Context, e DispatchEvent) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "cannot encode dispatch event")
	}

	msg := nats.NewMsg(s.Subject(e.EventType))
	msg.Data = payload
	if e.UserID != "" {
		msg.Header.Set("Gateway-User", e.UserID)
	}

	if err := s.pub.PublishMsg(msg); err != nil {
		return errors.Wrapf(err, "cannot publish to %s", msg.Subject)
	}
	return nil
}
