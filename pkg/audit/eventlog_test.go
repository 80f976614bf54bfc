package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileEventLog_AppendsJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pairing.log")
	l, err := NewFileEventLog(path)
	require.NoError(t, err)
	defer func() { _ = l.Close() }()

	now := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, l.Record(PairingEvent{Timestamp: now, DeviceID: "dev-1", TokenRef: "tok-a", Success: true}))
	require.NoError(t, l.Record(PairingEvent{Timestamp: now, DeviceID: "dev-2", TokenRef: "tok-b", Success: false, Reason: "expired"}))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	var events []PairingEvent
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var ev PairingEvent
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &ev))
		events = append(events, ev)
	}
	require.NoError(t, scanner.Err())

	require.Len(t, events, 2)
	assert.Equal(t, "dev-1", events[0].DeviceID)
	assert.True(t, events[0].Success)
	assert.Equal(t, "expired", events[1].Reason)
}

func TestFileEventLog_AppendsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pairing.log")

	l1, err := NewFileEventLog(path)
	require.NoError(t, err)
	require.NoError(t, l1.Record(PairingEvent{DeviceID: "dev-1"}))
	require.NoError(t, l1.Close())

	l2, err := NewFileEventLog(path)
	require.NoError(t, err)
	require.NoError(t, l2.Record(PairingEvent{DeviceID: "dev-2"}))
	require.NoError(t, l2.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "dev-1")
	assert.Contains(t, string(data), "dev-2")
}
