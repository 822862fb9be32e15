package ackbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev.helix.code/internal/txnid"
)

func TestChannelName_ParseChannel_RoundTrip(t *testing.T) {
	pid := txnid.PartitionID(7)
	rid := txnid.ReplicationID(42)

	name := channelName(pid, rid)
	gotPID, gotRID, ok := parseChannel(name)
	require.True(t, ok)
	assert.Equal(t, pid, gotPID)
	assert.Equal(t, rid, gotRID)
}

func TestParseChannel_RejectsMalformed(t *testing.T) {
	_, _, ok := parseChannel("not-a-channel")
	assert.False(t, ok)
}

func TestDisabledBus_IsNoOp(t *testing.T) {
	b := New(Config{Enabled: false})
	assert.False(t, b.IsEnabled())
	assert.NoError(t, b.PublishAck(nil, 0, 0, 1))
	assert.NoError(t, b.Listen(nil, func(txnid.PartitionID, txnid.ReplicationID, uint32) {}))
	assert.NoError(t, b.Close())
}
