package relay

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Kind is the category of a relayed event.
type Kind string

const (
	KindPriceUpdate          Kind = "price_update"
	KindArbitrageOpportunity Kind = "arbitrage_opportunity"
	KindOrderStatusUpdate    Kind = "order_status_update"
	KindMarketAlert          Kind = "market_alert"
)

var kinds = []Kind{
	KindPriceUpdate,
	KindArbitrageOpportunity,
	KindOrderStatusUpdate,
	KindMarketAlert,
}

// Kinds returns every event kind the relay accepts.
func Kinds() []Kind {
	out := make([]Kind, len(kinds))
	copy(out, kinds)
	return out
}

// Valid reports whether k is one of the accepted kinds.
func (k Kind) Valid() bool {
	for _, known := range kinds {
		if k == known {
			return true
		}
	}
	return false
}

func (k Kind) String() string { return string(k) }

// ErrMalformedEvent is returned for inbound messages that are not a valid envelope.
var ErrMalformedEvent = errors.New("malformed event")

var nullPayload = json.RawMessage("null")

// Event is an immutable, typed message. Payload is carried as raw JSON and
// never inspected by the relay.
type Event struct {
	Kind    Kind
	Payload json.RawMessage
}

// NewEvent builds an event from an already-encoded payload.
func NewEvent(kind Kind, payload []byte) Event {
	if len(bytes.TrimSpace(payload)) == 0 {
		return Event{Kind: kind, Payload: nullPayload}
	}
	p := make(json.RawMessage, len(payload))
	copy(p, payload)
	return Event{Kind: kind, Payload: p}
}

// envelope is the wire shape of an event.
type envelope struct {
	Kind    string          `json:"kind" validate:"required,oneof=price_update arbitrage_opportunity order_status_update market_alert"`
	Payload json.RawMessage `json:"payload"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// DecodeEvent parses and validates a wire envelope. Every failure wraps
// ErrMalformedEvent; validator failures are additionally reachable with errors.As.
func DecodeEvent(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if err := validate.Struct(env); err != nil {
		return Event{}, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}
	return NewEvent(Kind(env.Kind), env.Payload), nil
}

// MarshalJSON encodes the event as a wire envelope.
func (e Event) MarshalJSON() ([]byte, error) {
	payload := e.Payload
	if len(payload) == 0 {
		payload = nullPayload
	}
	return json.Marshal(envelope{Kind: string(e.Kind), Payload: payload})
}

// UnmarshalJSON accepts a wire envelope, applying the same checks as DecodeEvent.
func (e *Event) UnmarshalJSON(data []byte) error {
	ev, err := DecodeEvent(data)
	if err != nil {
		return err
	}
	*e = ev
	return nil
}
