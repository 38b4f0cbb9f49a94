package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()

	ObservePoll(PollOK)
	ObservePoll(PollSkipped)
	ObserveFetch(3, 250*time.Millisecond)
	ObserveDelivery("telegram", true)
	ObserveDelivery("telegram", false)
	ObserveReconnect()
	SetLedgerSize(42)
}

func TestHandlerServesMetrics(t *testing.T) {
	Init()
	ObservePoll(PollOK)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "smswatch_polls_total")
}
