package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/preflight"
	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/queue"
)

func TestRecoveryHandler_Recover(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, attempts, max_attempts, locked_by`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "attempts", "max_attempts", "locked_by"}))

	s := &Server{engine: gin.New(), queue: queue.NewQueue(db)}
	s.setupRoutes()

	body, _ := json.Marshal(RecoveryRequest{Action: RecoveryActionRecover})
	req := httptest.NewRequest(http.MethodPost, "/recovery", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp RecoveryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, RecoveryActionRecover, resp.Action)
}

func TestRecoveryHandler_Status(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT`)).
		WillReturnRows(sqlmock.NewRows([]string{
			"pending", "processing", "completed_today", "failed_today", "avg_processing_seconds", "oldest_pending_minutes",
		}).AddRow(3, 1, 10, 0, 12.5, 2.0))

	s := &Server{engine: gin.New(), queue: queue.NewQueue(db)}
	s.setupRoutes()

	body, _ := json.Marshal(RecoveryRequest{Action: RecoveryActionStatus})
	req := httptest.NewRequest(http.MethodPost, "/recovery", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp RecoveryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, RecoveryActionStatus, resp.Action)
	require.NotNil(t, resp.Stats)
	assert.Equal(t, 3, resp.Stats.Pending)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecoveryHandler_Cleanup(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM preflights WHERE expires_at < now()`)).
		WillReturnResult(sqlmock.NewResult(0, 4))

	s := &Server{engine: gin.New(), preflights: preflight.NewStore(db)}
	s.setupRoutes()

	body, _ := json.Marshal(RecoveryRequest{Action: RecoveryActionCleanup})
	req := httptest.NewRequest(http.MethodPost, "/recovery", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp RecoveryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, RecoveryActionCleanup, resp.Action)
	assert.Equal(t, 4, resp.Cleaned)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecoveryHandler_UnknownAction_Returns400(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := &Server{engine: gin.New(), queue: queue.NewQueue(db)}
	s.setupRoutes()

	body, _ := json.Marshal(RecoveryRequest{Action: RecoveryAction("bogus")})
	req := httptest.NewRequest(http.MethodPost, "/recovery", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
