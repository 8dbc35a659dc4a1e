package rabbit

import (
	"encoding/json"
	"fmt"

	"github.com/civicase/relay/internal/broker"
)

// EncodeMessage serialises a message record into the wire envelope:
// {id, created, queue, origin, handler, discriminant, context, status},
// timestamps in RFC 3339.
func EncodeMessage(msg *broker.Message) ([]byte, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("rabbit: encode message %s: %w", msg.ID, err)
	}
	return body, nil
}

// DecodeMessage parses a wire envelope back into a message record.
func DecodeMessage(body []byte) (*broker.Message, error) {
	var msg broker.Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("rabbit: decode message: %w", err)
	}
	if msg.ID == "" {
		return nil, fmt.Errorf("rabbit: decode message: missing id")
	}
	return &msg, nil
}
