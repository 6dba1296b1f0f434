package api

import (
	"database/sql"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/statuschannel"
)

var statusColumns = []string{
	"preflight_id", "job_id", "user_id", "tier", "status", "progress", "logs", "current_step",
	"worker_progress", "plan_data", "token_usage", "report_data", "error_message", "error_details",
	"started_at", "completed_at", "failed_at", "estimated_duration_seconds", "actual_duration_seconds",
}

func TestWsHandler_MissingPreflightID_Returns400(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := &Server{engine: gin.New(), statusStore: statuschannel.NewStore(db)}
	s.setupRoutes()

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWsHandler_UnknownPreflight_Returns404(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT preflight_id, job_id, user_id, tier, status, progress, logs, current_step`)).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	s := &Server{engine: gin.New(), statusStore: statuschannel.NewStore(db)}
	s.setupRoutes()

	req := httptest.NewRequest(http.MethodGet, "/ws?preflightId=missing", nil)
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWsHandler_NotAuthorized_Returns403(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT preflight_id, job_id, user_id, tier, status, progress, logs, current_step`)).
		WithArgs("pf-1").
		WillReturnRows(sqlmock.NewRows(statusColumns).AddRow(
			"pf-1", nil, "someone-else", "security", "processing", 10, []byte(`[]`), nil,
			[]byte(`{}`), nil, []byte(`{}`), nil, nil, nil,
			nil, nil, nil, nil, nil,
		))

	s := &Server{engine: gin.New(), statusStore: statuschannel.NewStore(db)}
	s.setupRoutes()

	req := httptest.NewRequest(http.MethodGet, "/ws?preflightId=pf-1&userId=not-the-owner", nil)
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}
