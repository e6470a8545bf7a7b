package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterIsIdempotent(t *testing.T) {
	require.NotPanics(t, func() {
		Register()
		Register()
	})

	IncHTTP("/api/prenotazioni", "200")
	IncRateLimited()
	ObserveReservation("get", OutcomeOK)

	n, err := testutil.GatherAndCount(prometheus.DefaultGatherer,
		"labbooking_http_requests_total",
		"labbooking_reservation_operations_total",
		"labbooking_rate_limited_total",
	)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 3)
}

func TestObserveReservation(t *testing.T) {
	for _, outcome := range []string{OutcomeOK, OutcomeInvalid, OutcomeNotFound, OutcomeDuplicate, OutcomeError} {
		t.Run(outcome, func(t *testing.T) {
			c := reservationOps.WithLabelValues("update", outcome)
			before := testutil.ToFloat64(c)
			ObserveReservation("update", outcome)
			ObserveReservation("update", outcome)
			assert.Equal(t, before+2, testutil.ToFloat64(c))
		})
	}
}

func TestIncHTTPLabels(t *testing.T) {
	ok := httpRequests.WithLabelValues("/api/export", "200")
	forbidden := httpRequests.WithLabelValues("/api/export", "403")
	okBefore, forbiddenBefore := testutil.ToFloat64(ok), testutil.ToFloat64(forbidden)

	IncHTTP("/api/export", "403")

	assert.Equal(t, okBefore, testutil.ToFloat64(ok))
	assert.Equal(t, forbiddenBefore+1, testutil.ToFloat64(forbidden))
}
