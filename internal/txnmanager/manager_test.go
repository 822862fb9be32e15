package txnmanager

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev.helix.code/internal/partition"
	"dev.helix.code/internal/txnid"
)

func newTestManager(t *testing.T) *TransactionManager {
	t.Helper()
	m, err := New(Options{
		PartitionCount:        4,
		PartitionGroupCount:   2,
		MinTimeoutSec:         1,
		StableTimeoutSec:      30,
		CeilingTimeoutSec:     300,
		ReplicationTimeoutSec: 30,
		ReplyCacheSize:        64,
	}, nil)
	require.NoError(t, err)
	return m
}

func TestScan_Scenario_S5(t *testing.T) {
	m := newTestManager(t)
	client := uuid.New()
	pid := txnid.PartitionID(0)

	sess, _, err := m.Put(pid, partition.PutParams{
		ClientID: client, StatementID: 1,
		TxnTimeoutIntervalSeconds: 10,
		EmNow:                     1000,
		GetMode:                   txnid.GetModeCreate,
		TxnMode:                   txnid.TxnModeNoAutoCommitBegin,
	})
	require.NoError(t, err)
	assert.True(t, sess.Txn.IsActive())

	groupID := txnid.PartitionGroupID(int(pid) % m.groupCount)
	flags := []bool{true, true, true, true}

	expired := m.TransactionTimeoutScan(groupID, 12000, flags)
	require.Len(t, expired, 1)
	assert.Equal(t, client, expired[0].ClientID)

	// A second scan at the same instant finds nothing: the entry was
	// re-registered against context_expire_time, not txn_expire_time.
	expired2 := m.TransactionTimeoutScan(groupID, 12000, flags)
	assert.Empty(t, expired2)
}

func TestScan_MaskAppliesByRelativeIndexWithinGroup(t *testing.T) {
	m := newTestManager(t) // PartitionCount=4, PartitionGroupCount=2: group 0 owns partitions 0 and 2
	groupID := txnid.PartitionGroupID(0)

	clientOnChecked := uuid.New()
	clientOnUnchecked := uuid.New()

	_, _, err := m.Put(txnid.PartitionID(0), partition.PutParams{
		ClientID: clientOnChecked, StatementID: 1,
		TxnTimeoutIntervalSeconds: 10, EmNow: 1000,
		GetMode: txnid.GetModeCreate, TxnMode: txnid.TxnModeNoAutoCommitBegin,
	})
	require.NoError(t, err)
	_, _, err = m.Put(txnid.PartitionID(2), partition.PutParams{
		ClientID: clientOnUnchecked, StatementID: 1,
		TxnTimeoutIntervalSeconds: 10, EmNow: 1000,
		GetMode: txnid.GetModeCreate, TxnMode: txnid.TxnModeNoAutoCommitBegin,
	})
	require.NoError(t, err)

	// Relative index 0 (partition 0) is masked in; relative index 1
	// (partition 2) is masked out.
	expired := m.TransactionTimeoutScan(groupID, 12000, []bool{true, false})
	require.Len(t, expired, 1)
	assert.Equal(t, clientOnChecked, expired[0].ClientID)
	assert.Equal(t, txnid.PartitionID(0), expired[0].PartitionID)
}

func TestBackupRestore_Scenario_S6(t *testing.T) {
	m := newTestManager(t)
	client := uuid.New()
	container := uuid.New()
	pid := txnid.PartitionID(1)

	sess, _, err := m.Put(pid, partition.PutParams{
		ClientID: client, ContainerID: container, StatementID: 1,
		TxnTimeoutIntervalSeconds: 30,
		EmNow:                     1000,
		GetMode:                   txnid.GetModeCreate,
		TxnMode:                   txnid.TxnModeNoAutoCommitBegin,
	})
	require.NoError(t, err)
	_ = sess

	maxTxnID, tuples, err := m.Backup(pid)
	require.NoError(t, err)
	require.Len(t, tuples, 1)

	err = m.Restore(pid, 2000, maxTxnID, tuples)
	require.NoError(t, err)

	newID := m.partitionFor(pid).AssignNewTransactionID()
	assert.Equal(t, maxTxnID+1, newID)
}

func TestReplication_Scenario_S7(t *testing.T) {
	m := newTestManager(t)
	client := uuid.New()
	pid := txnid.PartitionID(0)

	repl, err := m.ReplicationPut(ReplicationPutParams{
		PartitionID: pid, ClientID: client, StatementType: "update",
		StatementID: 1, EmNow: 1000,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, repl.ReplicationID)

	repl.IncrementAckCounter(2)
	assert.False(t, repl.DecrementAckCounter())
	assert.True(t, repl.DecrementAckCounter())
	assert.True(t, repl.DecrementAckCounter())
}

func TestUpdate_Scenario_S2(t *testing.T) {
	m := newTestManager(t)
	client := uuid.New()
	pid := txnid.PartitionID(0)

	sess, _, err := m.Put(pid, partition.PutParams{
		ClientID: client, StatementID: 1, EmNow: 1000,
		GetMode: txnid.GetModeCreate, TxnMode: txnid.TxnModeNoAutoCommitBegin,
	})
	require.NoError(t, err)
	m.Update(pid, sess, 1)

	sess2, _, err := m.Put(pid, partition.PutParams{
		ClientID: client, StatementID: 2, EmNow: 1000,
		GetMode: txnid.GetModeGet, TxnMode: txnid.TxnModeNoAutoCommitContinue,
	})
	require.NoError(t, err)
	assert.Equal(t, sess.Txn.TxnID, sess2.Txn.TxnID)

	// Retrying statement 1 now fails as already-executed instead of
	// spuriously succeeding, since Update recorded it as applied.
	_, _, err = m.Put(pid, partition.PutParams{
		ClientID: client, StatementID: 1, EmNow: 1000,
		GetMode: txnid.GetModeGet, TxnMode: txnid.TxnModeNoAutoCommitContinue,
		IsUpdateStmt: true,
	})
	require.Error(t, err)
}

func TestMaskedPartitions_NegativeRelativeIndexDoesNotPanic(t *testing.T) {
	g := newGroup(0)
	clamp := partition.ClampConfig{MinTimeoutSec: 1, StableTimeoutSec: 30, CeilingTimeoutSec: 300}
	// A partition id negative enough that pid/groupCount is itself
	// negative (not just the modulo groupForPartition normalizes).
	pid := txnid.PartitionID(-3)
	g.partitions[pid] = partition.New(pid, g.sessions, g.activeTxns, g.replications, nil, clamp)

	var masked map[txnid.PartitionID]bool
	assert.NotPanics(t, func() {
		masked = g.maskedPartitions([]bool{true, true}, 2)
	})
	assert.False(t, masked[pid])
}

func TestPut_CachedReplyOnRetry(t *testing.T) {
	m := newTestManager(t)
	client := uuid.New()
	pid := txnid.PartitionID(0)

	sess, _, err := m.Put(pid, partition.PutParams{
		ClientID: client, StatementID: 1, EmNow: 1000,
		GetMode: txnid.GetModeCreate, TxnMode: txnid.TxnModeNoAutoCommitBegin,
	})
	require.NoError(t, err)
	m.Update(pid, sess, 1)
	m.RecordReply(client, 1, "cached-ok")

	_, cached, err := m.Put(pid, partition.PutParams{
		ClientID: client, StatementID: 1, EmNow: 1000,
		GetMode: txnid.GetModeGet, TxnMode: txnid.TxnModeNoAutoCommitContinue,
		IsUpdateStmt: true, IsRedo: false,
	})
	require.Error(t, err)
	assert.Equal(t, "cached-ok", cached)
}
