// receiver package contains the transports that carry service messages into the gateway.
package receiver

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"
)

var ErrInvalidMessage = errors.New("service message is not a JSON object")

// DecodeMessage parses a service message. When the message has no "subscription" field
// it is taken from defaultSubscription, which the transports derive from the Kafka key or
// the Redis channel. Numbers are kept as json.Number so large _order values compare exactly.
func DecodeMessage(value []byte, defaultSubscription string) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(value))
	dec.UseNumber()
	var msg map[string]any
	if err := dec.Decode(&msg); err != nil || msg == nil || dec.More() {
		return nil, ErrInvalidMessage
	}
	if _, ok := msg["subscription"]; !ok && defaultSubscription != "" {
		msg["subscription"] = defaultSubscription
	}
	return msg, nil
}
