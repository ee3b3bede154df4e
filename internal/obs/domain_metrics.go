package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// TaxComputationsTotal counts tax computations by outcome.
	TaxComputationsTotal *prometheus.CounterVec
	// LoginAttemptsTotal counts login and registration attempts by outcome.
	LoginAttemptsTotal *prometheus.CounterVec
	// RecordsAppendedTotal counts record persistence outcomes.
	RecordsAppendedTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
// Only the first call has an effect.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		TaxComputationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tax_computations_total",
			Help:      "Count of tax computations by outcome.",
		}, []string{"source", "result"})
		LoginAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "login_attempts_total",
			Help:      "Count of login and registration attempts by outcome.",
		}, []string{"action", "result"})
		RecordsAppendedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_appended_total",
			Help:      "Count of tax record appends by outcome.",
		}, []string{"result"})

		TaxComputationsTotal = registerOrReuse(reg, TaxComputationsTotal)
		LoginAttemptsTotal = registerOrReuse(reg, LoginAttemptsTotal)
		RecordsAppendedTotal = registerOrReuse(reg, RecordsAppendedTotal)
	})
}

// ObserveTaxComputation increments the computation counter when metrics are registered.
func ObserveTaxComputation(source string, err error) {
	if TaxComputationsTotal == nil {
		return
	}
	TaxComputationsTotal.WithLabelValues(source, resultLabel(err)).Inc()
}

// ObserveLogin increments the login counter when metrics are registered.
func ObserveLogin(action string, err error) {
	if LoginAttemptsTotal == nil {
		return
	}
	LoginAttemptsTotal.WithLabelValues(action, resultLabel(err)).Inc()
}

// ObserveRecordAppend increments the append counter when metrics are registered.
func ObserveRecordAppend(err error) {
	if RecordsAppendedTotal == nil {
		return
	}
	RecordsAppendedTotal.WithLabelValues(resultLabel(err)).Inc()
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
