package api

import (
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/config"
	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/dispatcher"
	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/queue"
)

func TestHealthzHandler_ReportsHealthyWhenDBAndPoolOK(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectPing()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM jobs WHERE status = 'pending'`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM jobs`)).
		WithArgs("pod-1%").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	q := queue.NewQueue(db)
	pool := queue.NewWorkerPool("pod-1", db, config.DefaultQueueConfig(), nil)
	disp := dispatcher.New(q, pool, 0, 3)

	s := &Server{engine: gin.New(), db: db, dispatcher: disp}
	s.setupRoutes()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)
}

func TestHealthzHandler_UnhealthyOnPingFailure(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectPing().WillReturnError(assert.AnError)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM jobs WHERE status = 'pending'`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM jobs`)).
		WithArgs("pod-1%").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	q := queue.NewQueue(db)
	pool := queue.NewWorkerPool("pod-1", db, config.DefaultQueueConfig(), nil)
	disp := dispatcher.New(q, pool, 0, 3)

	s := &Server{engine: gin.New(), db: db, dispatcher: disp}
	s.setupRoutes()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"unhealthy"`)
}
