package txnconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWithNoConfigFile(t *testing.T) {
	t.Setenv("TXNMGR_CONFIG", "/nonexistent/path/that/does/not/exist.yaml")
	cfg, err := Load("/nonexistent/path/that/does/not/exist.yaml")
	require.NoError(t, err)

	assert.Equal(t, ReplicationAsync, cfg.ReplicationMode)
	assert.Equal(t, 30, cfg.ReplicationTimeoutIntervalSec)
	assert.Equal(t, 30, cfg.TransactionTimeoutLimitSec)
	assert.Equal(t, 1, cfg.MinTxnTimeoutSec)
	assert.Equal(t, 16, cfg.PartitionCount)
	assert.Equal(t, 4, cfg.PartitionGroupCount)
}

func TestValidate_RejectsOutOfRangeConnectionLimit(t *testing.T) {
	cfg := Config{
		ReplicationMode:                ReplicationAsync,
		ReplicationTimeoutIntervalSec:  30,
		TransactionTimeoutLimitSec:     30,
		ConnectionLimit:                2,
		PartitionCount:                 1,
		PartitionGroupCount:            1,
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection_limit")
}

func TestValidate_RejectsBadReplicationMode(t *testing.T) {
	cfg := Config{
		ReplicationMode:                "BOGUS",
		ReplicationTimeoutIntervalSec:  30,
		TransactionTimeoutLimitSec:     30,
		ConnectionLimit:                256,
		PartitionCount:                 1,
		PartitionGroupCount:            1,
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "replication_mode")
}
