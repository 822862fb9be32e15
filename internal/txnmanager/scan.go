package txnmanager

import (
	"dev.helix.code/internal/partition"
	"dev.helix.code/internal/txnid"
)

// dueSession is one entry popped off the session map's expiry heap during
// a scan, before re-registration.
type dueSession struct {
	clientID txnid.ClientID
	session  *partition.Session
}

// drainDueSessions pops every entry whose expiry is <= emNow off the
// session map's heap. It must run to completion before any re-registration
// happens: Update pushes a popped entry back onto the heap, and if that
// push used an expiry <= emNow it would immediately satisfy the next
// Refresh call and be visited again within the same scan.
func drainDueSessions(g *group, emNow txnid.EventTime) []dueSession {
	var due []dueSession
	for {
		clientID, sess, ok := g.sessions.Refresh(emNow)
		if !ok {
			break
		}
		due = append(due, dueSession{clientID: clientID, session: sess})
	}
	return due
}

// ExpiredSession identifies a session the transaction- or request-timeout
// scan found past its expiry (spec.md §4.4).
type ExpiredSession struct {
	PartitionID txnid.PartitionID
	ClientID    txnid.ClientID
}

// maskedPartitions, given check_partition_flags indexed by a partition's
// relative id within the group (spec.md §4.4), resolves it against this
// group's current partition set. groupForPartition assigns partitions to
// groups by pid % groupCount, so a partition's relative index within its
// group is pid / groupCount — not its position in the (unordered)
// partitions map.
func (g *group) maskedPartitions(checkPartitionFlags []bool, groupCount int) map[txnid.PartitionID]bool {
	masked := make(map[txnid.PartitionID]bool, len(g.partitions))
	for pid := range g.partitions {
		idx := int(pid) / groupCount
		if idx >= 0 && idx < len(checkPartitionFlags) && checkPartitionFlags[idx] {
			masked[pid] = true
		}
	}
	return masked
}

// TransactionTimeoutScan sweeps groupID's session map using refresh(emNow)
// and reports sessions whose embedded transaction is ACTIVE and has timed
// out. Non-expired and non-masked candidates are re-registered at
// whichever of txn_expire_time/context_expire_time currently applies;
// timed-out candidates are re-registered at context_expire_time so the
// request-timeout scan picks them up next (spec.md §4.4).
func (m *TransactionManager) TransactionTimeoutScan(groupID txnid.PartitionGroupID, emNow txnid.EventTime, checkPartitionFlags []bool) []ExpiredSession {
	g := m.groups[groupID]
	masked := g.maskedPartitions(checkPartitionFlags, m.groupCount)
	due := drainDueSessions(g, emNow)

	var out []ExpiredSession
	for _, d := range due {
		sess := d.session
		if masked[sess.PartitionID] && sess.Txn.IsActive() && sess.Txn.TxnExpireTime <= emNow {
			out = append(out, ExpiredSession{PartitionID: sess.PartitionID, ClientID: d.clientID})
			if p, ok := g.partitions[sess.PartitionID]; ok {
				p.TxnTimeoutCount++
			}
			_ = g.sessions.Update(d.clientID, sess.ContextExpireTime)
			continue
		}
		_ = g.sessions.Update(d.clientID, sess.EffectiveExpireTime())
	}
	return out
}

// RequestTimeoutScan sweeps groupID's session map and reports sessions
// whose context_expire_time has passed, with the same re-registration
// policy as TransactionTimeoutScan (spec.md §4.4).
func (m *TransactionManager) RequestTimeoutScan(groupID txnid.PartitionGroupID, emNow txnid.EventTime, checkPartitionFlags []bool) []ExpiredSession {
	g := m.groups[groupID]
	masked := g.maskedPartitions(checkPartitionFlags, m.groupCount)
	due := drainDueSessions(g, emNow)

	var out []ExpiredSession
	for _, d := range due {
		sess := d.session
		if masked[sess.PartitionID] && sess.ContextExpireTime <= emNow {
			out = append(out, ExpiredSession{PartitionID: sess.PartitionID, ClientID: d.clientID})
			if p, ok := g.partitions[sess.PartitionID]; ok {
				p.ReqTimeoutCount++
			}
		}
		_ = g.sessions.Update(d.clientID, sess.EffectiveExpireTime())
	}
	return out
}

// ExpiredReplication identifies a replication follow-up the
// replication-timeout scan found past its expiry.
type ExpiredReplication struct {
	PartitionID   txnid.PartitionID
	ReplicationID txnid.ReplicationID
}

// ReplicationTimeoutScan enumerates the replication map: every entry
// refresh() returns is reported unconditionally (refresh already filtered
// by expiry), incrementing the owning partition's repl_timeout_count
// (spec.md §4.4). Unlike the session scans, expired replications are not
// re-registered — the caller is expected to Remove them once it has
// finished any cleanup that needs the entry.
func (m *TransactionManager) ReplicationTimeoutScan(groupID txnid.PartitionGroupID, emNow txnid.EventTime) []ExpiredReplication {
	g := m.groups[groupID]

	var out []ExpiredReplication
	for {
		key, _, ok := g.replications.Refresh(emNow)
		if !ok {
			break
		}
		out = append(out, ExpiredReplication{PartitionID: key.PartitionID, ReplicationID: key.ReplicationID})
		if p, ok := g.partitions[key.PartitionID]; ok {
			p.ReplTimeoutCount++
		}
	}
	return out
}
