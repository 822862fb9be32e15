// Package txnid defines the identifier and time primitives shared by the
// partition, partition-group, and transaction-manager layers. Nothing in
// this package reads a clock; event time is always supplied by the caller.
package txnid

import "github.com/google/uuid"

// ClientID is the opaque, fixed-width identifier of a client session.
type ClientID = uuid.UUID

// ContainerID identifies the row-storage container a session is bound to.
type ContainerID = uuid.UUID

// PartitionID identifies a shard.
type PartitionID int32

// PartitionGroupID identifies the set of partitions owned by one worker.
type PartitionGroupID int32

// TxnID is a partition-unique, monotonically increasing transaction
// identifier, except across restore (see partition.RestoreActiveContext).
type TxnID int64

// AutoCommitTxnID marks an implicit, single-statement transaction that is
// never indexed in the active-transaction map.
const AutoCommitTxnID TxnID = 0

// ReplicationID is a partition-unique, monotonically increasing
// replication follow-up identifier.
type ReplicationID int64

// StatementID is a per-session, client-assigned monotonic identifier used
// for at-most-once semantics on update statements.
type StatementID int64

// EventTime is monotonic event time in milliseconds, always supplied by a
// caller; the core never samples a clock.
type EventTime int64

// Millis converts whole seconds to EventTime milliseconds.
func Millis(seconds int) EventTime {
	return EventTime(seconds) * 1000
}

// Add returns t advanced by the given number of milliseconds.
func (t EventTime) Add(millis int64) EventTime {
	return t + EventTime(millis)
}

// GetMode selects how put() resolves an existing session.
type GetMode string

const (
	GetModeAuto   GetMode = "auto"
	GetModeCreate GetMode = "create"
	GetModeGet    GetMode = "get"
	GetModePut    GetMode = "put"
)

// IsValid reports whether m is one of the known get modes.
func (m GetMode) IsValid() bool {
	switch m {
	case GetModeAuto, GetModeCreate, GetModeGet, GetModePut:
		return true
	}
	return false
}

// TxnMode selects the transaction-continuation behavior of put().
type TxnMode string

const (
	TxnModeAutoCommit              TxnMode = "auto_commit"
	TxnModeNoAutoCommitBegin       TxnMode = "no_auto_commit_begin"
	TxnModeNoAutoCommitContinue    TxnMode = "no_auto_commit_continue"
	TxnModeNoAutoCommitBeginOrCont TxnMode = "no_auto_commit_begin_or_continue"
)

// IsValid reports whether m is one of the known transaction modes.
func (m TxnMode) IsValid() bool {
	switch m {
	case TxnModeAutoCommit, TxnModeNoAutoCommitBegin, TxnModeNoAutoCommitContinue, TxnModeNoAutoCommitBeginOrCont:
		return true
	}
	return false
}

// TxnState is the embedded transaction state machine's current state.
type TxnState string

const (
	TxnStateInactive TxnState = "inactive"
	TxnStateActive   TxnState = "active"
)
