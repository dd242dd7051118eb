package kafka

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

func TestToJSON_UsesWireFieldNames(t *testing.T) {
	raw := ToJSON(sampleEvent())
	require.NotEmpty(t, raw)

	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(raw), &fields))
	for _, name := range []string{"transactionId", "orderId", "payload", "source", "status", "eventHistory", "createdAt"} {
		assert.Contains(t, fields, name)
	}
}

func TestToEvent_KeepsHistory(t *testing.T) {
	event := sampleEvent()

	decoded, err := ToEvent([]byte("\n " + ToJSON(event) + " \n"))
	require.NoError(t, err)

	assert.Equal(t, event.TransactionID, decoded.TransactionID)
	assert.Equal(t, domain.SourceOrchestrator, decoded.Source)
	require.Len(t, decoded.History, 1)
	assert.Equal(t, "Saga started!", decoded.History[0].Message)
	assert.True(t, event.CreatedAt.Equal(decoded.CreatedAt))
}

func TestToEvent_RejectsGarbage(t *testing.T) {
	for name, input := range map[string]string{
		"empty":       "",
		"blank":       "   ",
		"null":        "null",
		"not json":    "payment ok",
		"wrong shape": `{"history": 42, "payload": "x"}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ToEvent([]byte(input))
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrSerialization)
			assert.Equal(t, domain.ErrorClassSerialization, domain.ClassifyError(err))
		})
	}
}
