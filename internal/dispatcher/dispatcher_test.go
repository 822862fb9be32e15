package dispatcher

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev.helix.code/internal/partition"
	"dev.helix.code/internal/txnid"
	"dev.helix.code/internal/txnmanager"
)

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	m, err := txnmanager.New(txnmanager.Options{
		PartitionCount:        2,
		PartitionGroupCount:   1,
		MinTimeoutSec:         1,
		StableTimeoutSec:      30,
		CeilingTimeoutSec:     300,
		ReplicationTimeoutSec: 30,
	}, nil)
	require.NoError(t, err)
	return New(Config{JWTSecret: "test-secret", TokenTTL: time.Minute}, m)
}

func TestPut_RejectsUnauthenticatedCaller(t *testing.T) {
	d := newTestDispatcher(t)
	_, _, err := d.Put("not-a-real-token", 0, partition.PutParams{
		ClientID: uuid.New(), StatementID: 1, EmNow: 1000,
		GetMode: txnid.GetModeCreate, TxnMode: txnid.TxnModeAutoCommit,
	})
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestPut_SucceedsWithIssuedToken(t *testing.T) {
	d := newTestDispatcher(t)
	token, err := d.IssueNodeToken("node-1")
	require.NoError(t, err)

	sess, _, err := d.Put(token, 0, partition.PutParams{
		ClientID: uuid.New(), StatementID: 1, EmNow: 1000,
		GetMode: txnid.GetModeCreate, TxnMode: txnid.TxnModeAutoCommit,
	})
	require.NoError(t, err)
	assert.False(t, sess.Txn.IsActive())
}

func TestUpdate_RecordsStatementAndRejectsUnauthenticatedCaller(t *testing.T) {
	d := newTestDispatcher(t)
	token, err := d.IssueNodeToken("node-1")
	require.NoError(t, err)
	client := uuid.New()

	sess, _, err := d.Put(token, 0, partition.PutParams{
		ClientID: client, StatementID: 1, EmNow: 1000,
		GetMode: txnid.GetModeCreate, TxnMode: txnid.TxnModeNoAutoCommitBegin,
	})
	require.NoError(t, err)

	require.ErrorIs(t, d.Update("not-a-real-token", 0, sess, 1), ErrTokenInvalid)
	require.NoError(t, d.Update(token, 0, sess, 1))
	assert.EqualValues(t, 1, sess.LastStatementID)
}
