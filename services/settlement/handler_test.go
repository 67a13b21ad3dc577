package settlement

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"fieldops-dispatch/services/booking"
	"fieldops-dispatch/services/testutil/apitest"
	"fieldops-dispatch/services/testutil/fixture"

	"github.com/stretchr/testify/require"
)

type retryBody struct {
	JobID   string `json:"job_id"`
	Settled bool   `json:"settled"`
	Reason  string `json:"reason"`
	Amount  int64  `json:"amount"`
	EntryID string `json:"entry_id"`
}

func retry(t *testing.T, rec *httptest.ResponseRecorder) retryBody {
	t.Helper()
	var out retryBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestRetryHandler(t *testing.T) {
	e, db := newEngine(t, false)
	completedJob(t, db, 100)
	fixture.Job(t, db, 200, 500,
		fixture.Status(booking.StatusCompleted),
		fixture.AssignedTo(tech),
		fixture.Payment(booking.PaymentPending),
		fixture.Amounts(600, 450),
	)

	engine, router := apitest.NewRouter(t)
	registerRoutes(router, e)
	admin := apitest.AdminToken(t)

	rec := apitest.Do(t, engine, http.MethodPost, "/v1/admin/settlements/100/retry", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	first := retry(t, rec)
	require.Equal(t, "100", first.JobID)
	require.True(t, first.Settled)
	require.Equal(t, string(ReasonSettledSequential), first.Reason)
	require.Equal(t, int64(450), first.Amount)
	require.NotEmpty(t, first.EntryID)

	rec = apitest.Do(t, engine, http.MethodPost, "/v1/admin/settlements/100/retry", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	again := retry(t, rec)
	require.True(t, again.Settled)
	require.Equal(t, string(ReasonAlreadySettled), again.Reason)
	require.Empty(t, again.EntryID)

	rec = apitest.Do(t, engine, http.MethodPost, "/v1/admin/settlements/200/retry", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	unpaid := retry(t, rec)
	require.False(t, unpaid.Settled)
	require.Equal(t, string(ReasonNotEligible), unpaid.Reason)

	require.Equal(t, int64(1), credits(t, db, 100))
	require.Equal(t, int64(450), balance(t, db))
}

func TestRetryHandlerIsAdminOnly(t *testing.T) {
	e, db := newEngine(t, false)
	completedJob(t, db, 100)

	engine, router := apitest.NewRouter(t)
	registerRoutes(router, e)

	rec := apitest.Do(t, engine, http.MethodPost, "/v1/admin/settlements/100/retry", apitest.TechnicianToken(t, tech), nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Zero(t, credits(t, db, 100))

	rec = apitest.Do(t, engine, http.MethodGet, "/v1/technicians/me/wallet", apitest.TechnicianToken(t, tech), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var w struct {
		Balance int64 `json:"balance"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &w))
	require.Zero(t, w.Balance)
}
