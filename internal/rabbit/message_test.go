package rabbit_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicase/relay/internal/broker"
	"github.com/civicase/relay/internal/rabbit"
)

func TestMessageCodec(t *testing.T) {
	created := time.Date(2026, 8, 28, 10, 30, 0, 0, time.UTC)
	msg := &broker.Message{
		ID:           "01J8ZC2V7N0000000000000000",
		Queue:        "invoices",
		Created:      created,
		Status:       broker.StatusFirstTry,
		Context:      map[string]any{"folder": "case-42"},
		Origin:       "billing",
		Handler:      "sync-invoices",
		Discriminant: "case-42",
	}

	body, err := rabbit.EncodeMessage(msg)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"2026-08-28T10:30:00Z"`)

	decoded, err := rabbit.DecodeMessage(body)
	require.NoError(t, err)
	assert.Equal(t, msg.ID, decoded.ID)
	assert.Equal(t, msg.Status, decoded.Status)
	assert.Equal(t, msg.Discriminant, decoded.Discriminant)
	assert.Equal(t, "case-42", decoded.Context["folder"])
	assert.True(t, created.Equal(decoded.Created))
}

func TestDecodeMessageRejectsBadPayloads(t *testing.T) {
	_, err := rabbit.DecodeMessage([]byte("not json"))
	require.Error(t, err)

	_, err = rabbit.DecodeMessage([]byte(`{"queue":"invoices"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing id")
}
