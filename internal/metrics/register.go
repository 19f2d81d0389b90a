package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Все register*-хелперы переиспользуют уже зарегистрированный коллектор,
// чтобы повторное создание метрик в тестах и при рестарте компонента не паниковало.

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		return reuseExisting[prometheus.Counter](err, opts.Name)
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		return reuseExisting[*prometheus.CounterVec](err, opts.Name)
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		return reuseExisting[prometheus.Gauge](err, opts.Name)
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		return reuseExisting[*prometheus.HistogramVec](err, opts.Name)
	}
	return collector
}

func reuseExisting[T prometheus.Collector](err error, name string) T {
	alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError)
	if !ok {
		panic(fmt.Sprintf("register collector %q: %v", name, err))
	}
	existing, ok := alreadyRegistered.ExistingCollector.(T)
	if !ok {
		panic(fmt.Sprintf("collector %q already registered with unexpected type", name))
	}
	return existing
}
