package ingestion

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_AppendsLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs.jsonl")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		rec, err := OpenRecorder(path)
		require.NoError(t, err)
		require.NoError(t, rec.Write(ctx, rawLog(uint64(10+i), 0)))
		require.NoError(t, rec.Close())
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"blockNumber":10`)
	assert.Contains(t, lines[1], `"blockNumber":11`)
}
