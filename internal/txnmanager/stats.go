package txnmanager

import "dev.helix.code/internal/txnid"

// GroupStats is the memory-usage and counter read-out for one partition
// group (spec.md §6 "configuration binding & statistics").
type GroupStats struct {
	GroupID txnid.PartitionGroupID `json:"group_id"`

	SessionCount     int `json:"session_count"`
	ActiveTxnCount   int `json:"active_txn_count"`
	ReplicationCount int `json:"replication_count"`

	SessionBytes     int `json:"session_bytes"`
	ActiveTxnBytes   int `json:"active_txn_bytes"`
	ReplicationBytes int `json:"replication_bytes"`

	TxnTimeoutCount  uint64 `json:"txn_timeout_count"`
	ReqTimeoutCount  uint64 `json:"req_timeout_count"`
	ReplTimeoutCount uint64 `json:"repl_timeout_count"`
}

// Stats returns one GroupStats per partition group, summing the per-group
// expiring maps' element counts/byte accounting and every owned
// partition's scan counters.
func (m *TransactionManager) Stats() []GroupStats {
	out := make([]GroupStats, len(m.groups))
	for i, g := range m.groups {
		s := GroupStats{
			GroupID:          g.id,
			SessionCount:     g.sessions.ElementCount(),
			ActiveTxnCount:   g.activeTxns.ElementCount(),
			ReplicationCount: g.replications.ElementCount(),
			SessionBytes:     g.sessions.ElementSizeBytes(),
			ActiveTxnBytes:   g.activeTxns.ElementSizeBytes(),
			ReplicationBytes: g.replications.ElementSizeBytes(),
		}
		g.mu.Lock()
		for _, p := range g.partitions {
			s.TxnTimeoutCount += p.TxnTimeoutCount
			s.ReqTimeoutCount += p.ReqTimeoutCount
			s.ReplTimeoutCount += p.ReplTimeoutCount
		}
		g.mu.Unlock()
		out[i] = s
	}
	return out
}

// SetFreeElementLimit bounds how many freed slots each of a group's three
// maps retains (spec.md §4.1 free-element accounting), applied uniformly
// across every partition group.
func (m *TransactionManager) SetFreeElementLimit(n int) {
	for _, g := range m.groups {
		g.sessions.SetFreeElementLimit(n)
		g.activeTxns.SetFreeElementLimit(n)
		g.replications.SetFreeElementLimit(n)
	}
}
