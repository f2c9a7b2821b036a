package fwbuild

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockTableRoundtrip(t *testing.T) {
	table, err := NewLockTable(t.TempDir())
	require.NoError(t, err)

	conflict, err := table.claim("/home/user/proj", "r1")
	require.NoError(t, err)
	require.Nil(t, conflict)
	conflict, err = table.claim("/dev/ttyUSB0", "r1")
	require.NoError(t, err)
	require.Nil(t, conflict)

	records, err := table.Records()
	require.NoError(t, err)
	require.Len(t, records, 2)

	byKey := map[string]LockRecord{}
	for _, rec := range records {
		byKey[rec.Key] = rec
	}
	assert.Equal(t, KeyTypeProject, byKey["/home/user/proj"].KeyType)
	assert.Equal(t, KeyTypePort, byKey["/dev/ttyUSB0"].KeyType)
	assert.Equal(t, "r1", byKey["/dev/ttyUSB0"].Holder)
	assert.Equal(t, os.Getpid(), byKey["/dev/ttyUSB0"].PID)
	assert.False(t, byKey["/dev/ttyUSB0"].AcquiredAt.IsZero())

	table.noteReleased("/dev/ttyUSB0", "r1")
	records, err = table.Records()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "/home/user/proj", records[0].Key)
}

func TestLockTableClaimRefusesLiveHolder(t *testing.T) {
	table, err := NewLockTable(t.TempDir())
	require.NoError(t, err)

	_, err = table.claim("/dev/ttyUSB0", "r1")
	require.NoError(t, err)

	// A second live request cannot take the key over
	conflict, err := table.claim("/dev/ttyUSB0", "r2")
	require.NoError(t, err)
	require.NotNil(t, conflict)
	assert.Equal(t, "r1", conflict.Holder)

	records, err := table.Records()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "r1", records[0].Holder)

	// Once r1 releases, r2's claim goes through
	table.noteReleased("/dev/ttyUSB0", "r1")
	conflict, err = table.claim("/dev/ttyUSB0", "r2")
	require.NoError(t, err)
	require.Nil(t, conflict)
}

func TestLockTableClaimReplacesOwnAndDeadRecords(t *testing.T) {
	table, err := NewLockTable(t.TempDir())
	require.NoError(t, err)

	// Re-claiming a key we already hold refreshes the record
	_, err = table.claim("/dev/ttyUSB0", "r1")
	require.NoError(t, err)
	conflict, err := table.claim("/dev/ttyUSB0", "r1")
	require.NoError(t, err)
	require.Nil(t, conflict)

	// A record left by a dead process is overwritten, not refused
	require.NoError(t, table.save([]LockRecord{{
		Key:    "/dev/ttyACM1",
		Holder: "crashed",
		PID:    1 << 30,
	}}))
	conflict, err = table.claim("/dev/ttyACM1", "r2")
	require.NoError(t, err)
	require.Nil(t, conflict)

	records, err := table.Records()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "r2", records[0].Holder)
}

func TestLockTableReleaseKeepsForeignRecord(t *testing.T) {
	table, err := NewLockTable(t.TempDir())
	require.NoError(t, err)

	_, err = table.claim("/dev/ttyUSB0", "r1")
	require.NoError(t, err)

	// A release by someone who never held the key changes nothing
	table.noteReleased("/dev/ttyUSB0", "r2")

	records, err := table.Records()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "r1", records[0].Holder)
}

func TestLockTableRecordsRegisteredKind(t *testing.T) {
	table, err := NewLockTable(t.TempDir())
	require.NoError(t, err)

	// A port outside /dev would misclassify by shape alone
	table.noteKind("COM3", KeyTypePort)
	_, err = table.claim("COM3", "r1")
	require.NoError(t, err)

	records, err := table.Records()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, KeyTypePort, records[0].KeyType)
}

func TestLockTableCorruptFileTreatedAsEmpty(t *testing.T) {
	dir := t.TempDir()
	table, err := NewLockTable(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(table.Path(), []byte("not json{"), 0o644))

	records, err := table.Records()
	require.NoError(t, err)
	assert.Empty(t, records)

	// Writes still work after corruption
	_, err = table.claim("/dev/ttyUSB0", "r1")
	require.NoError(t, err)
	records, err = table.Records()
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestLockTableSweep(t *testing.T) {
	dir := t.TempDir()
	table, err := NewLockTable(dir)
	require.NoError(t, err)

	// A record owned by this very process stays
	_, err = table.claim("/home/user/proj", "live")
	require.NoError(t, err)

	// Inject a record from a process that cannot exist
	records, err := table.Records()
	require.NoError(t, err)
	records = append(records, LockRecord{
		Key:     "/dev/ttyUSB0",
		KeyType: "port",
		Holder:  "dead",
		PID:     1 << 30,
	})
	data, err := json.Marshal(records)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(table.Path(), data, 0o644))

	reclaimed, err := table.Sweep()
	require.NoError(t, err)
	require.Len(t, reclaimed, 1)
	assert.Equal(t, "/dev/ttyUSB0", reclaimed[0].Key)
	assert.Equal(t, "dead", reclaimed[0].Holder)

	remaining, err := table.Records()
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "live", remaining[0].Holder)

	// A second sweep finds nothing
	reclaimed, err = table.Sweep()
	require.NoError(t, err)
	assert.Empty(t, reclaimed)
}

func TestLockTableAtomicSaveLeavesNoTemp(t *testing.T) {
	dir := t.TempDir()
	table, err := NewLockTable(dir)
	require.NoError(t, err)

	_, err = table.claim("/dev/ttyUSB0", "r1")
	require.NoError(t, err)
	table.noteReleased("/dev/ttyUSB0", "r1")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp-")
	}
}

func TestNewLockTableBadDir(t *testing.T) {
	// A path through a regular file cannot become a directory
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	_, err := NewLockTable(filepath.Join(blocker, "sub"))
	assert.ErrorIs(t, err, ErrStateDirUnavailable)
}

func TestProcessAlive(t *testing.T) {
	assert.True(t, processAlive(os.Getpid()))
	assert.False(t, processAlive(0))
	assert.False(t, processAlive(-1))
	assert.False(t, processAlive(1<<30))
}

func TestClassifyKey(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"/dev/ttyUSB0", "port"},
		{"/dev/serial/by-id/usb-foo", "port"},
		{"/home/user/proj", "project"},
		{"relative/path", "project"},
	}
	for _, tt := range tests {
		if got := classifyKey(tt.key); got != tt.want {
			t.Errorf("classifyKey(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}
