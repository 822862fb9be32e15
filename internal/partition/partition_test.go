package partition

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev.helix.code/internal/txnid"
)

func newTestPartition() *Partition {
	sessions := NewSessionMapForTest()
	activeTxns := NewActiveTxnMapForTest()
	repls := NewReplicationMapForTest()
	clamp := ClampConfig{MinTimeoutSec: 1, StableTimeoutSec: 30, CeilingTimeoutSec: 300}
	return New(0, sessions, activeTxns, repls, nil, clamp)
}

func TestPut_HappyPathAutoCommit(t *testing.T) {
	p := newTestPartition()
	client := uuid.New()

	sess, err := p.Put(PutParams{
		ClientID:                  client,
		StatementID:               1,
		TxnTimeoutIntervalSeconds: 30,
		EmNow:                     1000,
		GetMode:                   txnid.GetModeCreate,
		TxnMode:                   txnid.TxnModeAutoCommit,
	})
	require.NoError(t, err)
	assert.Equal(t, txnid.AutoCommitTxnID, sess.Txn.TxnID)
	assert.EqualValues(t, 31000, sess.Txn.TxnExpireTime)

	require.NoError(t, p.Commit(sess))
	assert.EqualValues(t, 0, sess.LastStatementID)
}

func TestPut_BeginContinueCommit(t *testing.T) {
	p := newTestPartition()
	client := uuid.New()

	sess, err := p.Put(PutParams{
		ClientID:    client,
		StatementID: 1,
		EmNow:       1000,
		GetMode:     txnid.GetModeCreate,
		TxnMode:     txnid.TxnModeNoAutoCommitBegin,
	})
	require.NoError(t, err)
	assert.True(t, sess.Txn.IsActive())
	txnID := sess.Txn.TxnID
	assert.True(t, p.IsActiveTransaction(txnID))

	p.Update(sess, 1) // dispatcher records statement 1 as applied
	sess2, err := p.Put(PutParams{
		ClientID:    client,
		StatementID: 2,
		EmNow:       1000,
		GetMode:     txnid.GetModeGet,
		TxnMode:     txnid.TxnModeNoAutoCommitContinue,
	})
	require.NoError(t, err)
	assert.Equal(t, txnID, sess2.Txn.TxnID)

	require.NoError(t, p.Commit(sess2))
	assert.False(t, p.IsActiveTransaction(txnID))
}

func TestPut_StatementAlreadyExecuted(t *testing.T) {
	p := newTestPartition()
	client := uuid.New()

	sess, err := p.Put(PutParams{
		ClientID: client, StatementID: 1, EmNow: 1000,
		GetMode: txnid.GetModeCreate, TxnMode: txnid.TxnModeNoAutoCommitBegin,
	})
	require.NoError(t, err)
	p.Update(sess, 2)

	_, err = p.Put(PutParams{
		ClientID: client, StatementID: 2, EmNow: 1000,
		GetMode: txnid.GetModeGet, TxnMode: txnid.TxnModeNoAutoCommitContinue,
		IsUpdateStmt: true, IsRedo: false,
	})
	require.Error(t, err)
	assertDomainErr(t, err, "statement-already-executed")

	// is_redo=true bypasses the check.
	_, err = p.Put(PutParams{
		ClientID: client, StatementID: 2, EmNow: 1000,
		GetMode: txnid.GetModeGet, TxnMode: txnid.TxnModeNoAutoCommitContinue,
		IsUpdateStmt: true, IsRedo: true,
	})
	require.NoError(t, err)
}

func TestPut_Continuity(t *testing.T) {
	p := newTestPartition()
	client := uuid.New()

	sess, err := p.Put(PutParams{
		ClientID: client, StatementID: 1, EmNow: 1000,
		GetMode: txnid.GetModeCreate, TxnMode: txnid.TxnModeNoAutoCommitBegin,
	})
	require.NoError(t, err)
	p.Update(sess, 2)

	_, err = p.Put(PutParams{
		ClientID: client, StatementID: 5, EmNow: 1000,
		GetMode: txnid.GetModeGet, TxnMode: txnid.TxnModeNoAutoCommitContinue,
	})
	assertDomainErr(t, err, "statement-invalid")
}

func TestRestore_Monotonicity(t *testing.T) {
	p := newTestPartition()
	client := uuid.New()
	container := uuid.New()

	err := p.RestoreActiveContext(2000, 42, []ActiveContextTuple{
		{ClientID: client, TxnID: 42, ContainerID: container, LastStatementID: 7, TxnTimeoutSeconds: 30},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 43, p.AssignNewTransactionID())
}

func TestUpdate_OnlyIncreasesLastStatementID(t *testing.T) {
	p := newTestPartition()
	client := uuid.New()

	sess, err := p.Put(PutParams{
		ClientID: client, StatementID: 1, EmNow: 1000,
		GetMode: txnid.GetModeCreate, TxnMode: txnid.TxnModeNoAutoCommitBegin,
	})
	require.NoError(t, err)

	p.Update(sess, 5)
	assert.EqualValues(t, 5, sess.LastStatementID)

	// A stale/out-of-order Update for an earlier statement id must not
	// roll last_statement_id backward (spec.md §3 invariant).
	p.Update(sess, 3)
	assert.EqualValues(t, 5, sess.LastStatementID)
}

func TestAckCounter_Saturates(t *testing.T) {
	r := &ReplicationContext{}
	r.IncrementAckCounter(2)
	assert.False(t, r.DecrementAckCounter())
	assert.True(t, r.DecrementAckCounter())
	assert.True(t, r.DecrementAckCounter()) // saturates, tolerates spurious ack
}
