package journal

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAndRecent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path)
	require.NoError(t, err)
	defer j.Close()

	ctx := context.Background()
	j.Record(ctx, KindDeviceAdded, "AA:BB:CC:DD:EE:FF", "", "path=/org/bluealsa/hci0/dev_AA_BB_CC_DD_EE_FF/a2dpsrc")
	j.Record(ctx, KindBridgeSpawned, "AA:BB:CC:DD:EE:FF", "bt_in_AA:BB:CC:DD:EE:FF", "pid=1234")
	j.Record(ctx, KindBridgeExited, "AA:BB:CC:DD:EE:FF", "bt_in_AA:BB:CC:DD:EE:FF", "exit=1")

	events, err := j.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 3)

	// newest first
	assert.Equal(t, KindBridgeExited, events[0].Kind)
	assert.Equal(t, KindDeviceAdded, events[2].Kind)
	assert.Equal(t, "bt_in_AA:BB:CC:DD:EE:FF", events[0].Job)
	assert.False(t, events[0].Time.IsZero())
}

func TestNilJournalIsNoOp(t *testing.T) {
	var j *Journal
	j.Record(context.Background(), KindConfigReloaded, "", "", "")
	events, err := j.Recent(context.Background(), 5)
	assert.NoError(t, err)
	assert.Nil(t, events)
	assert.NoError(t, j.Close())
}

func TestRecentLimit(t *testing.T) {
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer j.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		j.Record(ctx, KindBridgeSpawned, "11:22:33:44:55:66", "bt_sco_11:22:33:44:55:66", "")
	}
	events, err := j.Recent(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}
