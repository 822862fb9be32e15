package partition

import "dev.helix.code/internal/txnid"

// Session is the per-client transaction context (spec.md §3,
// "Session (TransactionContext)"). One exists per ClientID at a time.
type Session struct {
	ClientID    txnid.ClientID
	PartitionID txnid.PartitionID
	ContainerID txnid.ContainerID

	LastStatementID txnid.StatementID

	ContextExpireTime txnid.EventTime

	StatementStartTime  txnid.EventTime
	StatementExpireTime txnid.EventTime

	TxnTimeoutIntervalSeconds int

	Txn Transaction
}

// Transaction is the embedded transaction sub-state machine (spec.md §3,
// "Transaction (embedded)").
type Transaction struct {
	State         txnid.TxnState
	TxnID         txnid.TxnID
	TxnStartTime  txnid.EventTime
	TxnExpireTime txnid.EventTime
}

// IsActive reports whether the embedded transaction is in state ACTIVE.
func (t *Transaction) IsActive() bool { return t.State == txnid.TxnStateActive }

// EffectiveExpireTime is the expiry the session-map entry must carry:
// while a transaction is ACTIVE it is the transaction's expiry, otherwise
// the context's expiry (spec.md §3 invariant).
func (s *Session) EffectiveExpireTime() txnid.EventTime {
	if s.Txn.IsActive() {
		return s.Txn.TxnExpireTime
	}
	return s.ContextExpireTime
}

// reset clears a session for reuse, used for the pooled AUTO-mode stub
// (the "Auto session stub" entry of SPEC_FULL.md's SUPPLEMENTED FEATURES).
func (s *Session) reset() {
	*s = Session{}
}
