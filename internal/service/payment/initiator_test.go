package payment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

func TestSimulated(t *testing.T) {
	res, err := Simulated{}.Initiate(context.Background(), Request{})
	require.NoError(t, err)
	assert.True(t, res.Simulated)
	assert.Empty(t, res.RedirectURL)
}

func TestProviderError(t *testing.T) {
	cause := errors.New("boom")
	err := error(&ProviderError{Provider: "direct", StatusCode: 502, Detail: "declined", Raw: "{}", Err: cause})

	assert.ErrorIs(t, err, domain.ErrPaymentFailed)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "direct provider error (http 502): declined: boom", err.Error())

	wrapped := errors.Join(errors.New("context"), err)
	perr, ok := AsProviderError(wrapped)
	require.True(t, ok)
	assert.Equal(t, "declined", perr.Detail)

	_, ok = AsProviderError(cause)
	assert.False(t, ok)
}

func TestURLs(t *testing.T) {
	assert.Equal(t, "https://shop.example/#/order-confirmation?orderId=o-9", ConfirmationURL("https://shop.example//", "o-9"))
	assert.Equal(t, "https://shop.example/#/checkout", CancelURL("https://shop.example/"))
}

func TestInstrument_LogsAndCounts(t *testing.T) {
	logger, hook := test.NewNullLogger()
	registry := prometheus.NewRegistry()
	m := metrics.NewCheckoutMetricsWithRegisterer(registry)

	failing := &MockInitiator{Err: &ProviderError{Provider: "direct", Detail: "declined", Raw: `{"raw":true}`}}
	inst := Instrument(failing, domain.PaymentProviderDirect, log.NewEntry(logger), m)

	_, err := inst.Initiate(context.Background(), Request{Order: domain.Order{ID: "o-1"}})
	require.ErrorIs(t, err, domain.ErrPaymentFailed)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, log.WarnLevel, entry.Level)
	assert.Equal(t, `{"raw":true}`, entry.Data["raw_response"])
	assert.Equal(t, "o-1", entry.Data["order_id"])

	simulated := Instrument(Simulated{}, domain.PaymentProviderSimulated, log.NewEntry(logger), m)
	res, err := simulated.Initiate(context.Background(), Request{Order: domain.Order{ID: "o-2"}})
	require.NoError(t, err)
	assert.True(t, res.Simulated)
	assert.Equal(t, log.InfoLevel, hook.LastEntry().Level)

	families, err := registry.Gather()
	require.NoError(t, err)
	results := map[string]float64{}
	for _, mf := range families {
		if mf.GetName() != "storefront_payment_initiations_total" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			var provider, result string
			for _, lp := range metric.GetLabel() {
				switch lp.GetName() {
				case "provider":
					provider = lp.GetValue()
				case "result":
					result = lp.GetValue()
				}
			}
			results[provider+"/"+result] = metric.GetCounter().GetValue()
		}
	}
	assert.Equal(t, float64(1), results["direct/error"])
	assert.Equal(t, float64(1), results["simulated/simulated"])
}

func TestInstrument_NilDependencies(t *testing.T) {
	inst := Instrument(NewMockInitiator("https://pay"), domain.PaymentProviderHosted, nil, nil)
	start := time.Now()
	res, err := inst.Initiate(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "https://pay", res.RedirectURL)
	assert.Less(t, time.Since(start), time.Second)
}
