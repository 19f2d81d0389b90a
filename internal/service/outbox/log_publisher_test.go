package outbox

import (
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func TestLogPublisher_WritesEvent(t *testing.T) {
	logger, hook := test.NewNullLogger()
	publisher := NewLogPublisher(log.NewEntry(logger))

	err := publisher.Publish(domain.OutboxMessage{
		ID:          "outbox-1",
		AggregateID: "order-1",
		EventType:   domain.EventOrderPaid,
		Payload:     []byte(`{"status":"paid"}`),
	})
	require.NoError(t, err)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "order event", entry.Message)
	assert.Equal(t, domain.EventOrderPaid, entry.Data["event_type"])
	assert.Equal(t, "order-1", entry.Data["aggregate_id"])
}
