package boltz

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mitchellh/mapstructure"
)

const swapUpdateChannel = "swap.update"

const (
	opSubscribe   = "subscribe"
	opUnsubscribe = "unsubscribe"
	opPing        = "ping"
)

const (
	EventUpdate      = "update"
	EventPong        = "pong"
	EventSubscribe   = "subscribe"
	EventUnsubscribe = "unsubscribe"
	EventError       = "error"
)

var ErrDecode = errors.New("malformed push channel message")

// Request is an outgoing control message.
type Request struct {
	Op      string   `json:"op"`
	Channel string   `json:"channel,omitempty"`
	Args    []string `json:"args,omitempty"`
}

func subscribeRequest(ids ...string) Request {
	return Request{Op: opSubscribe, Channel: swapUpdateChannel, Args: ids}
}

func unsubscribeRequest(ids ...string) Request {
	return Request{Op: opUnsubscribe, Channel: swapUpdateChannel, Args: ids}
}

func pingRequest() Request {
	return Request{Op: opPing}
}

// Event is an incoming message before its args are interpreted.
type Event struct {
	Event   string `json:"event"`
	Channel string `json:"channel"`
	Args    []any  `json:"args"`
	Error   string `json:"error"`
}

type SwapTransaction struct {
	Id  string `json:"id"`
	Hex string `json:"hex"`
}

type SwapUpdate struct {
	Id            string           `json:"id"`
	Status        string           `json:"status"`
	Transaction   *SwapTransaction `json:"transaction"`
	FailureReason string           `json:"failureReason"`
}

// DecodeEvent parses a complete push channel payload.
func DecodeEvent(payload []byte) (*Event, error) {
	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDecode, err)
	}
	if event.Event == "" {
		return nil, fmt.Errorf("%w: missing event field", ErrDecode)
	}
	return &event, nil
}

// SwapUpdates interprets the args of an update event. Entries without an
// id are rejected.
func (e *Event) SwapUpdates() ([]SwapUpdate, error) {
	if e.Event != EventUpdate {
		return nil, fmt.Errorf("%w: event %q carries no swap updates", ErrDecode, e.Event)
	}

	updates := make([]SwapUpdate, 0, len(e.Args))
	for _, arg := range e.Args {
		var update SwapUpdate
		decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			TagName: "json",
			Result:  &update,
		})
		if err != nil {
			return nil, err
		}
		if err := decoder.Decode(arg); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrDecode, err)
		}
		if update.Id == "" {
			return nil, fmt.Errorf("%w: update without swap id", ErrDecode)
		}
		updates = append(updates, update)
	}
	return updates, nil
}
