package gatewayws

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// Opcode selects the meaning of an Envelope.
type Opcode int

const (
	OpHeartbeat Opcode = iota
	OpHeartbeatAck
	OpHello
	OpIdentify
	OpReady
	OpDispatch
	OpSubmit
	OpReplay
)

// IdentifyTypeConsumer is the connection type announced in IDENTIFY by a client that only
// receives events.
const IdentifyTypeConsumer = 1

var opcodeNames = [...]string{
	OpHeartbeat:    "HEARTBEAT",
	OpHeartbeatAck: "HEARTBEAT_ACK",
	OpHello:        "HELLO",
	OpIdentify:     "IDENTIFY",
	OpReady:        "READY",
	OpDispatch:     "DISPATCH",
	OpSubmit:       "SUBMIT",
	OpReplay:       "REPLAY",
}

func (o Opcode) Valid() bool {
	return o >= OpHeartbeat && o <= OpReplay
}

func (o Opcode) String() string {
	if !o.Valid() {
		return "Opcode(" + strconv.Itoa(int(o)) + ")"
	}
	return opcodeNames[o]
}

func (o Opcode) MarshalJSON() ([]byte, error) {
	if !o.Valid() {
		return nil, errors.Wrapf(ErrParse, "unknown opcode %d", int(o))
	}
	return []byte(strconv.Itoa(int(o))), nil
}

func (o *Opcode) UnmarshalJSON(b []byte) error {
	n, err := strconv.Atoi(string(bytes.TrimSpace(b)))
	if err != nil {
		return errors.Wrapf(ErrParse, "opcode %s is not an integer", b)
	}
	op := Opcode(n)
	if !op.Valid() {
		return errors.Wrapf(ErrParse, "unknown opcode %d", n)
	}
	*o = op
	return nil
}

// Envelope is the unit exchanged in both directions of the channel.
type Envelope struct {
	Op        Opcode          `json:"op"`
	Data      json.RawMessage `json:"d,omitempty"`
	EventType string          `json:"t,omitempty"`
	UserID    string          `json:"uid,omitempty"`
	Seq       *int64          `json:"seq,omitempty"`
}

// wireEnvelope lets decoding tell a missing op apart from HEARTBEAT.
type wireEnvelope struct {
	Op        *Opcode         `json:"op"`
	Data      json.RawMessage `json:"d"`
	EventType string          `json:"t"`
	UserID    string          `json:"uid"`
	Seq       *int64          `json:"seq"`
}

// MaxHeartbeatInterval is the largest heartbeat_interval, in milliseconds, that still fits a
// time.Duration.
const MaxHeartbeatInterval = math.MaxInt64 / int64(time.Millisecond)

type HelloData struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"`
}

// UnmarshalJSON accepts heartbeat_interval as any JSON number. Fractional values are truncated.
func (h *HelloData) UnmarshalJSON(bts []byte) error {
	var raw struct {
		HeartbeatInterval json.Number `json:"heartbeat_interval"`
	}
	if err := json.Unmarshal(bts, &raw); err != nil {
		return errors.Wrap(ErrParse, err.Error())
	}
	if raw.HeartbeatInterval == "" {
		h.HeartbeatInterval = 0
		return nil
	}
	if n, err := raw.HeartbeatInterval.Int64(); err == nil {
		h.HeartbeatInterval = n
		return nil
	}
	f, err := raw.HeartbeatInterval.Float64()
	if err != nil || math.IsNaN(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return errors.Wrapf(ErrParse, "invalid heartbeat_interval %s", raw.HeartbeatInterval)
	}
	h.HeartbeatInterval = int64(f)
	return nil
}

// Interval converts the heartbeat interval to a Duration.
func (h HelloData) Interval() time.Duration {
	return time.Duration(h.HeartbeatInterval) * time.Millisecond
}

type IdentifyData struct {
	Token string `json:"token"`
	Type  int    `json:"type"`
}

// DispatchEvent is what an EventSink receives for every DISPATCH envelope.
type DispatchEvent struct {
	UserID    string          `json:"uid,omitempty"`
	EventType string          `json:"t,omitempty"`
	Data      json.RawMessage `json:"d,omitempty"`
	Seq       *int64          `json:"seq,omitempty"`
}

func (e DispatchEvent) String() string {
	return fmt.Sprintf("DispatchEvent{uid=%s,t=%s,d=%s}", e.UserID, e.EventType, e.Data)
}

// EncodeEnvelope serialises env. A JSON null payload is written as an absent "d".
func EncodeEnvelope(env Envelope) ([]byte, error) {
	if isNullData(env.Data) {
		env.Data = nil
	}
	bts, err := json.Marshal(env)
	if err != nil {
		if errors.Is(err, ErrParse) {
			return nil, err
		}
		return nil, errors.Wrap(ErrParse, err.Error())
	}
	return bts, nil
}

// DecodeEnvelope parses a wire envelope. Unknown fields are ignored; a missing or out of range
// op is an ErrParse.
func DecodeEnvelope(bts []byte) (Envelope, error) {
	var raw wireEnvelope
	if err := json.Unmarshal(bts, &raw); err != nil {
		if errors.Is(err, ErrParse) {
			return Envelope{}, err
		}
		return Envelope{}, errors.Wrap(ErrParse, err.Error())
	}
	if raw.Op == nil {
		return Envelope{}, errors.Wrap(ErrParse, "missing op")
	}

	env := Envelope{
		Op:        *raw.Op,
		EventType: raw.EventType,
		UserID:    raw.UserID,
		Seq:       raw.Seq,
	}
	if !isNullData(raw.Data) {
		env.Data = raw.Data
	}
	return env, nil
}

// Hello reads the HELLO payload.
func (e Envelope) Hello() (HelloData, error) {
	var hello HelloData
	if len(e.Data) == 0 {
		return hello, errors.Wrap(ErrParse, "HELLO without data")
	}
	if err := json.Unmarshal(e.Data, &hello); err != nil {
		if errors.Is(err, ErrParse) {
			return hello, err
		}
		return hello, errors.Wrap(ErrParse, err.Error())
	}
	if hello.HeartbeatInterval <= 0 || hello.HeartbeatInterval > MaxHeartbeatInterval {
		return hello, errors.Wrapf(ErrParse, "invalid heartbeat_interval %d", hello.HeartbeatInterval)
	}
	return hello, nil
}

func (e Envelope) Dispatch() DispatchEvent {
	return DispatchEvent{
		UserID:    e.UserID,
		EventType: e.EventType,
		Data:      e.Data,
		Seq:       e.Seq,
	}
}

func (e Envelope) String() string {
	return fmt.Sprintf("Envelope{op=%s,t=%s,uid=%s,d=%s}", e.Op, e.EventType, e.UserID, e.Data)
}

func NewHeartbeatEnvelope() Envelope {
	return Envelope{Op: OpHeartbeat}
}

func NewIdentifyEnvelope(token string) Envelope {
	// Marshalling a struct of a string and an int cannot fail.
	data, _ := json.Marshal(IdentifyData{Token: token, Type: IdentifyTypeConsumer})
	return Envelope{Op: OpIdentify, Data: data}
}

// NewSubmitEnvelope builds a SUBMIT envelope carrying data for userID.
func NewSubmitEnvelope(eventType, userID string, data any) (Envelope, error) {
	bts, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, errors.Wrap(ErrParse, err.Error())
	}
	if isNullData(bts) {
		bts = nil
	}
	return Envelope{Op: OpSubmit, EventType: eventType, UserID: userID, Data: bts}, nil
}

func isNullData(d json.RawMessage) bool {
	return len(d) == 0 || bytes.Equal(bytes.TrimSpace(d), []byte("null"))
}
