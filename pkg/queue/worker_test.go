package queue

import (
	"testing"
	"time"

	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/config"
	"github.com/stretchr/testify/assert"
)

func TestWorker_PollInterval_WithinJitterBounds(t *testing.T) {
	cfg := config.DefaultQueueConfig()
	cfg.PollInterval = 2 * time.Second
	cfg.PollIntervalJitter = 500 * time.Millisecond
	w := &Worker{config: cfg}

	for i := 0; i < 50; i++ {
		d := w.pollInterval()
		assert.GreaterOrEqual(t, d, cfg.PollInterval-cfg.PollIntervalJitter)
		assert.LessOrEqual(t, d, cfg.PollInterval+cfg.PollIntervalJitter)
	}
}

func TestWorker_PollInterval_NoJitter(t *testing.T) {
	cfg := config.DefaultQueueConfig()
	cfg.PollInterval = time.Second
	cfg.PollIntervalJitter = 0
	w := &Worker{config: cfg}

	assert.Equal(t, time.Second, w.pollInterval())
}

func TestWorker_SetStatus_UpdatesHealth(t *testing.T) {
	w := &Worker{id: "worker-1", status: WorkerStatusIdle}

	w.setStatus(WorkerStatusWorking, "job-42")
	h := w.Health()
	assert.Equal(t, string(WorkerStatusWorking), h.Status)
	assert.Equal(t, "job-42", h.CurrentJobID)

	w.setStatus(WorkerStatusIdle, "")
	h = w.Health()
	assert.Equal(t, string(WorkerStatusIdle), h.Status)
	assert.Equal(t, "", h.CurrentJobID)
}
