package cmd

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/jobprobe/pkg/output"
)

func TestWriteHistoryTable(t *testing.T) {
	queued := 1.5
	sessions := []output.SessionRecord{
		{
			SessionID: "s-1",
			Model:     "sd-xl",
			StartedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
			Outcome: &output.OutcomeRecord{
				Kind:        "success",
				Success:     true,
				QueuedTime:  &queued,
				RunningTime: 2.25,
				JobTime:     3.75,
			},
		},
		{
			SessionID: "s-2",
			StartedAt: time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC),
		},
	}

	var buf bytes.Buffer
	require.NoError(t, writeHistoryTable(&buf, sessions))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "SESSION")
	assert.Contains(t, lines[1], "s-1")
	assert.Contains(t, lines[1], "sd-xl")
	assert.Contains(t, lines[1], "success")
	assert.Contains(t, lines[1], "1.5s")
	assert.Contains(t, lines[1], "2.25s")
	assert.Contains(t, lines[1], "3.75s")
	assert.Contains(t, lines[2], "s-2")
	assert.Equal(t, []string{"s-2", "-", "-", "-", "-", "-"}, strings.Fields(lines[2])[2:])
}

func TestFormatSeconds(t *testing.T) {
	assert.Equal(t, "0s", formatSeconds(0))
	assert.Equal(t, "1.5s", formatSeconds(1.5))
	assert.Equal(t, "1m30s", formatSeconds(90))
}
