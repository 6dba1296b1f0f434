package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/llmclient"
	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/reasoning"
	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/tools"
)

// fakeCompletionClient answers every Complete call with a canned response,
// in order, letting a test script a session's completion without a real
// provider. Grounded on the fakes pkg/reasoning's own tests use for
// llmclient.Client.
type fakeCompletionClient struct {
	responses []string
	calls     int
}

func (f *fakeCompletionClient) Complete(ctx context.Context, req llmclient.CompletionRequest) (*llmclient.CompletionResponse, error) {
	i := f.calls
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}
	f.calls++
	return &llmclient.CompletionResponse{
		Text:       f.responses[i],
		TokenUsage: llmclient.TokenUsage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
	}, nil
}

func expectReasoningSessionLifecycle(mock sqlmock.Sqlmock) {
	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO reasoning_sessions`)).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO reasoning_steps`)).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(now))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE reasoning_sessions`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE reasoning_sessions SET status`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
}

func TestOrchestratorHandler_Sync_Completes(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	expectReasoningSessionLifecycle(mock)

	store := reasoning.NewStore(db)
	llm := &fakeCompletionClient{responses: []string{
		"<thinking>done</thinking><complete>{\"result\":\"ok\"}</complete>",
	}}
	loop := reasoning.New(llm, tools.NewRegistry(), store)

	s := &Server{engine: gin.New(), loop: loop}
	s.setupRoutes()

	body, _ := json.Marshal(OrchestratorRequest{
		Task: &TaskPayload{Description: "investigate something", Type: "security"},
	})
	req := httptest.NewRequest(http.MethodPost, "/orchestrator", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp OrchestratorCompleteEvent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, 1, resp.TotalSteps)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrchestratorHandler_MissingTaskAndPreflight_Returns400(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := &Server{engine: gin.New(), loop: reasoning.New(&fakeCompletionClient{}, tools.NewRegistry(), reasoning.NewStore(db))}
	s.setupRoutes()

	body, _ := json.Marshal(OrchestratorRequest{})
	req := httptest.NewRequest(http.MethodPost, "/orchestrator", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOrchestratorHandler_Stream_EmitsSSEEvents(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	expectReasoningSessionLifecycle(mock)

	store := reasoning.NewStore(db)
	llm := &fakeCompletionClient{responses: []string{
		"<thinking>wrapping up</thinking><complete>{\"result\":\"ok\"}</complete>",
	}}
	loop := reasoning.New(llm, tools.NewRegistry(), store)

	s := &Server{engine: gin.New(), loop: loop}
	s.setupRoutes()

	body, _ := json.Marshal(OrchestratorRequest{
		Task:   &TaskPayload{Description: "investigate something", Type: "security"},
		Stream: true,
	})
	req := httptest.NewRequest(http.MethodPost, "/orchestrator", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	out := rec.Body.String()
	assert.True(t, strings.Contains(out, "start"))
	assert.True(t, strings.Contains(out, "complete"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
