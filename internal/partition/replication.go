package partition

import "dev.helix.code/internal/txnid"

// ReplicationContext is the server-side follow-up kept after replying to a
// client, used to correlate asynchronous replica acknowledgements
// (spec.md §3, "Replication follow-up").
//
// External code reading a *ReplicationContext obtained from the
// replication map may not retain the pointer past the next mutation of
// that map on the same partition group (spec.md §3 invariant) — callers
// must re-Get it before each use that crosses a mutation boundary.
type ReplicationContext struct {
	ReplicationID      txnid.ReplicationID
	StatementType      string
	ClientID           txnid.ClientID
	PartitionID        txnid.PartitionID
	ContainerID        txnid.ContainerID
	StatementID        txnid.StatementID
	ClientNodeHandle   any // opaque NodeDescriptor handle, out of core scope
	ExpireTime         txnid.EventTime
	ExistFlag          bool

	ackCounter uint32
}

// IncrementAckCounter is called externally (by the replication subsystem)
// once it knows how many replica acknowledgements to expect.
func (r *ReplicationContext) IncrementAckCounter(n uint32) {
	r.ackCounter += n
}

// DecrementAckCounter saturates at zero and returns true when the counter
// became zero as a result of this call, or was already zero on entry
// (spec.md §8 property 4, §9 open question: this zero-conflation is
// preserved verbatim, not treated as a bug, so duplicate/late acks are
// tolerated rather than rejected).
func (r *ReplicationContext) DecrementAckCounter() bool {
	if r.ackCounter == 0 {
		return true
	}
	r.ackCounter--
	return r.ackCounter == 0
}

// AckCounter returns the current counter value, for diagnostics/tests.
func (r *ReplicationContext) AckCounter() uint32 { return r.ackCounter }
