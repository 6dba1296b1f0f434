package chunkstore

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatchIssues_SmallSetFitsOneChunk(t *testing.T) {
	issues := makeIssues(10)
	chunks := batchIssues(issues)
	require.Len(t, chunks, 1)
	assert.Len(t, chunks[0], 10)
}

func TestBatchIssues_StartsAtInitialBatchSize(t *testing.T) {
	issues := makeIssues(InitialBatchSize*3 + 5)
	chunks := batchIssues(issues)

	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	assert.Equal(t, len(issues), total, "no items may be dropped")

	for _, c := range chunks[:len(chunks)-1] {
		assert.LessOrEqual(t, len(c), InitialBatchSize)
	}
}

func TestBatchIssues_HalvesWhenOversize(t *testing.T) {
	// Large descriptions push a 50-item batch over the 500 KiB bound,
	// forcing the batch size down.
	issues := make([]models.Issue, 200)
	bigDesc := strings.Repeat("x", 20*1024)
	for i := range issues {
		issues[i] = models.Issue{ID: "i", Severity: models.SeverityHigh, Category: "c", Title: "t", Description: bigDesc}
	}

	chunks := batchIssues(issues)
	require.NotEmpty(t, chunks)

	total := 0
	for _, c := range chunks {
		total += len(c)
		assert.LessOrEqual(t, len(c), InitialBatchSize)
	}
	assert.Equal(t, len(issues), total)

	for _, c := range chunks {
		data, err := json.Marshal(c)
		require.NoError(t, err)
		assert.Less(t, len(data), ChunkSizeBoundBytes, "each chunk should land under the bound once halved enough")
	}
}

func TestBatchIssues_NeverDropsItemsEvenAtFloor(t *testing.T) {
	// A single issue whose description alone exceeds the bound must still
	// be written (with a warning), never dropped.
	huge := models.Issue{ID: "i", Description: strings.Repeat("y", ChunkSizeBoundBytes*2)}
	chunks := batchIssues([]models.Issue{huge})
	require.Len(t, chunks, 1)
	require.Len(t, chunks[0], 1)
}

func makeIssues(n int) []models.Issue {
	out := make([]models.Issue, n)
	for i := range out {
		out[i] = models.Issue{ID: "issue", Severity: models.SeverityLow, Category: "c", Title: "t", Description: "d"}
	}
	return out
}
