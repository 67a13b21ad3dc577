package booking

import (
	"encoding/json"
	"net/http"
	"testing"

	"fieldops-dispatch/services/technician"
	"fieldops-dispatch/services/testutil/apitest"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
)

func TestAdvanceHandler(t *testing.T) {
	f := newFixture(t)
	tech := snowflake.ID(101)
	f.seedTechnician(t, tech)
	seedJob(t, f.db, 1, func(j *Job) { j.Status = StatusAccepted; j.TechnicianID = &tech })

	engine, router := apitest.NewRouter(t)
	registerRoutes(router, f.svc)
	token := apitest.TechnicianToken(t, tech)

	t.Run("wrong transition is a conflict", func(t *testing.T) {
		rec := apitest.Do(t, engine, http.MethodPost, "/v1/jobs/1/status", token, advanceRequest{Status: StatusReached})
		require.Equal(t, http.StatusConflict, rec.Code)
		body := apitest.DecodeError(t, rec)
		require.Equal(t, "invalid status transition", body.Error.Message)
		require.Len(t, body.Error.Details, 1)
		require.Equal(t, "accepted -> reached", body.Error.Details[0].Message)
	})

	t.Run("next status advances", func(t *testing.T) {
		rec := apitest.Do(t, engine, http.MethodPost, "/v1/jobs/1/status", token, advanceRequest{Status: StatusOnTheWay})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var job struct {
			Status string `json:"status"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
		require.Equal(t, string(StatusOnTheWay), job.Status)
	})

	t.Run("ineligible technician gets reasons", func(t *testing.T) {
		require.NoError(t, f.db.Model(&technician.KYC{}).Where("technician_id = ?", tech).
			Update("bank_verified", false).Error)

		rec := apitest.Do(t, engine, http.MethodPost, "/v1/jobs/1/status", token, advanceRequest{Status: StatusReached})
		require.Equal(t, http.StatusForbidden, rec.Code)
		body := apitest.DecodeError(t, rec)
		require.Equal(t, "forbidden", body.Error.Code)
		require.Equal(t, "technician not eligible to work", body.Error.Message)

		var reasons []string
		for _, d := range body.Error.Details {
			require.Equal(t, "reason", d.Field)
			reasons = append(reasons, d.Message)
		}
		require.Contains(t, reasons, technician.ReasonBankNotVerified)
	})

	t.Run("missing status is a bad request", func(t *testing.T) {
		rec := apitest.Do(t, engine, http.MethodPost, "/v1/jobs/1/status", token, map[string]string{})
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestAdvanceHandlerRefusesCustomers(t *testing.T) {
	f := newFixture(t)
	seedJob(t, f.db, 1, func(j *Job) { j.Status = StatusAccepted })

	engine, router := apitest.NewRouter(t)
	registerRoutes(router, f.svc)

	rec := apitest.Do(t, engine, http.MethodPost, "/v1/jobs/1/status", apitest.CustomerToken(t, 900), advanceRequest{Status: StatusOnTheWay})
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, "operation not permitted for role", apitest.DecodeError(t, rec).Error.Message)
}
