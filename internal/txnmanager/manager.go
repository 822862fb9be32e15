// Package txnmanager is the facade described in spec.md §2.4: it owns one
// set of three partition-group-scoped maps per partition group, the
// per-partition Partition objects, and the public verbs callers use
// (put/get/remove/begin/commit/abort/checks/backup/restore, replication
// put/get/remove, the timeout scans, the counters, the partition lock).
package txnmanager

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"dev.helix.code/internal/partition"
	"dev.helix.code/internal/txnerr"
	"dev.helix.code/internal/txnid"
)

// group holds the three maps and partition set owned by one partition
// group's single worker (spec.md §5: "one owning worker thread per
// partition group"). Session put and the transaction verbs go through a
// Partition method; Remove, the replication verbs, the timeout scans and
// partition creation/removal operate on the group's maps directly.
type group struct {
	id           txnid.PartitionGroupID
	sessions     *partition.SessionMap
	activeTxns   *partition.ActiveTxnMap
	replications *partition.ReplicationMap

	mu         sync.Mutex // guards the partitions map only (admin-window ops)
	partitions map[txnid.PartitionID]*partition.Partition
}

func newGroup(id txnid.PartitionGroupID) *group {
	return &group{
		id:           id,
		sessions:     partition.NewSessionMap(),
		activeTxns:   partition.NewActiveTxnMap(),
		replications: partition.NewReplicationMap(),
		partitions:   make(map[txnid.PartitionID]*partition.Partition),
	}
}

// cacheKey identifies a cached idempotent-reply entry.
type cacheKey struct {
	ClientID    txnid.ClientID
	StatementID txnid.StatementID
}

// TransactionManager is the core facade. It is not itself goroutine-safe
// across partition groups in the sense of allowing concurrent mutation of
// one group from two goroutines — per spec.md §5 each group has exactly
// one owning worker — but CreatePartition/RemovePartition and read-only
// counter access are safe to call from any goroutine.
type TransactionManager struct {
	groupCount     int
	partitionCount int

	groups []*group // index = group id

	clamp                 partition.ClampConfig
	replicationTimeoutSec int

	container partition.Container
	lock      *PartitionLock

	replyCache *lru.Cache[cacheKey, any]
}

// Options configures New, mirroring the spec.md §6
// configuration-key table.
type Options struct {
	PartitionCount      int
	PartitionGroupCount int

	MinTimeoutSec     int
	StableTimeoutSec  int
	CeilingTimeoutSec int // transaction_timeout_limit_sec

	ReplicationTimeoutSec int // replication_timeout_interval_sec

	// ReplyCacheSize bounds the idempotent-reply LRU (domain-stack
	// addition, see SPEC_FULL.md); 0 disables it.
	ReplyCacheSize int
}

// New constructs a TransactionManager with groupCount empty partition
// groups. container may be nil in tests that never call Commit/Abort.
func New(opts Options, container partition.Container) (*TransactionManager, error) {
	if opts.PartitionGroupCount <= 0 {
		return nil, fmt.Errorf("txnmanager: partition_group_count must be positive")
	}
	if opts.PartitionCount <= 0 {
		return nil, fmt.Errorf("txnmanager: partition_count must be positive")
	}

	groups := make([]*group, opts.PartitionGroupCount)
	for i := range groups {
		groups[i] = newGroup(txnid.PartitionGroupID(i))
	}

	var cache *lru.Cache[cacheKey, any]
	if opts.ReplyCacheSize > 0 {
		c, err := lru.New[cacheKey, any](opts.ReplyCacheSize)
		if err != nil {
			// allocated so far: nothing else to release; surface the
			// failure per spec.md §7 partial-failure policy.
			return nil, fmt.Errorf("txnmanager: reply cache: %w", err)
		}
		cache = c
	}

	return &TransactionManager{
		groupCount:     opts.PartitionGroupCount,
		partitionCount: opts.PartitionCount,
		groups:         groups,
		clamp: partition.ClampConfig{
			MinTimeoutSec:     opts.MinTimeoutSec,
			StableTimeoutSec:  opts.StableTimeoutSec,
			CeilingTimeoutSec: opts.CeilingTimeoutSec,
		},
		replicationTimeoutSec: opts.ReplicationTimeoutSec,
		container:             container,
		lock:                  NewPartitionLock(),
		replyCache:            cache,
	}, nil
}

// groupForPartition maps a partition id to its owning group, matching
// spec.md §5's static partition->group assignment.
func (m *TransactionManager) groupForPartition(pid txnid.PartitionID) *group {
	idx := int(pid) % m.groupCount
	if idx < 0 {
		idx += m.groupCount
	}
	return m.groups[idx]
}

// CreatePartition lazily creates pid's Partition object if absent
// (spec.md §3 "Ownership & lifecycle summary").
func (m *TransactionManager) CreatePartition(pid txnid.PartitionID) *partition.Partition {
	g := m.groupForPartition(pid)
	g.mu.Lock()
	defer g.mu.Unlock()
	if p, ok := g.partitions[pid]; ok {
		return p
	}
	p := partition.New(pid, g.sessions, g.activeTxns, g.replications, m.container, m.clamp)
	g.partitions[pid] = p
	return p
}

// RemovePartition destroys pid's Partition object and drops every entry
// belonging to that partition from the group's three maps.
func (m *TransactionManager) RemovePartition(pid txnid.PartitionID) {
	g := m.groupForPartition(pid)
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.partitions, pid)

	// Cursor holds each map's lock while it runs, so keys are collected
	// first and removed after the walk.
	var clients []txnid.ClientID
	g.sessions.Cursor(func(key txnid.ClientID, val *partition.Session) bool {
		if val.PartitionID == pid {
			clients = append(clients, key)
		}
		return true
	})
	for _, key := range clients {
		g.sessions.Remove(key)
	}
	var txns []partition.ActiveTxnKey
	g.activeTxns.Cursor(func(key partition.ActiveTxnKey, _ *partition.ActiveTxnValue) bool {
		if key.PartitionID == pid {
			txns = append(txns, key)
		}
		return true
	})
	for _, key := range txns {
		g.activeTxns.Remove(key)
	}
	var repls []partition.ReplicationKey
	g.replications.Cursor(func(key partition.ReplicationKey, _ *partition.ReplicationContext) bool {
		if key.PartitionID == pid {
			repls = append(repls, key)
		}
		return true
	})
	for _, key := range repls {
		g.replications.Remove(key)
	}
}

// partitionFor returns pid's Partition, lazily creating it.
func (m *TransactionManager) partitionFor(pid txnid.PartitionID) *partition.Partition {
	return m.CreatePartition(pid)
}

// Lock/Unlock expose the advisory partition lock (spec.md §4.5).
func (m *TransactionManager) Lock(pid txnid.PartitionID) bool { return m.lock.Lock(pid) }
func (m *TransactionManager) Unlock(pid txnid.PartitionID)    { m.lock.Unlock(pid) }

// Put is the facade's primary entry point; see partition.Partition.Put.
// If the statement already executed and a cached reply was recorded via
// RecordReply, the cached reply is returned alongside the
// statement-already-executed domain error so the caller can reply without
// re-deriving the result (spec.md §7).
func (m *TransactionManager) Put(pid txnid.PartitionID, params partition.PutParams) (*partition.Session, any, error) {
	p := m.partitionFor(pid)
	sess, err := p.Put(params)
	if err != nil {
		if txnerr.Is(err, txnerr.StatementAlreadyExecuted) && m.replyCache != nil {
			if cached, ok := m.replyCache.Get(cacheKey{ClientID: params.ClientID, StatementID: params.StatementID}); ok {
				return nil, cached, err
			}
		}
		return nil, nil, err
	}
	return sess, nil, nil
}

// RecordReply caches the reply produced for (clientID, statementID) so a
// future retry's statement-already-executed failure can be answered from
// cache instead of being silently dropped.
func (m *TransactionManager) RecordReply(clientID txnid.ClientID, statementID txnid.StatementID, reply any) {
	if m.replyCache == nil {
		return
	}
	m.replyCache.Add(cacheKey{ClientID: clientID, StatementID: statementID}, reply)
}

// Get fetches an existing session without the put() state machine.
func (m *TransactionManager) Get(pid txnid.PartitionID, clientID txnid.ClientID) (*partition.Session, error) {
	g := m.groupForPartition(pid)
	v, err := g.sessions.Get(clientID)
	if err != nil {
		return nil, txnerr.New(txnerr.ContextNotFound, "session not found")
	}
	return v, nil
}

// Remove deletes a client's session (idempotent).
func (m *TransactionManager) Remove(pid txnid.PartitionID, clientID txnid.ClientID) {
	g := m.groupForPartition(pid)
	g.sessions.Remove(clientID)
}

// Begin starts a transaction on an already-resolved session.
func (m *TransactionManager) Begin(pid txnid.PartitionID, sess *partition.Session, emNow txnid.EventTime, explicitTxnID *txnid.TxnID) error {
	return m.partitionFor(pid).Begin(sess, emNow, explicitTxnID)
}

// Commit ends sess's transaction via the container collaborator.
func (m *TransactionManager) Commit(pid txnid.PartitionID, sess *partition.Session) error {
	return m.partitionFor(pid).Commit(sess)
}

// Abort ends sess's transaction via the container collaborator.
func (m *TransactionManager) Abort(pid txnid.PartitionID, sess *partition.Session) error {
	return m.partitionFor(pid).Abort(sess)
}

// CheckStatementAlreadyExecuted runs the idempotence check in isolation
// (spec.md §4.2 "Checks in isolation").
func (m *TransactionManager) CheckStatementAlreadyExecuted(pid txnid.PartitionID, sess *partition.Session, statementID txnid.StatementID, isUpdateStmt bool) error {
	return m.partitionFor(pid).CheckStatementAlreadyExecuted(sess, statementID, isUpdateStmt)
}

// CheckStatementContinuousInTransaction runs the continuity check in
// isolation.
func (m *TransactionManager) CheckStatementContinuousInTransaction(pid txnid.PartitionID, sess *partition.Session, statementID txnid.StatementID, txnMode txnid.TxnMode) error {
	return m.partitionFor(pid).CheckStatementContinuousInTransaction(sess, statementID, txnMode)
}

// Update records statementID as sess's last executed statement (spec.md
// §4.2); callers invoke this once a statement has completed, so a later
// retry of the same id is rejected by CheckStatementAlreadyExecuted.
func (m *TransactionManager) Update(pid txnid.PartitionID, sess *partition.Session, statementID txnid.StatementID) {
	m.partitionFor(pid).Update(sess, statementID)
}

// IsActiveTransaction reports whether (pid, txnID) is installed in the
// active-transaction map.
func (m *TransactionManager) IsActiveTransaction(pid txnid.PartitionID, txnID txnid.TxnID) bool {
	return m.partitionFor(pid).IsActiveTransaction(txnID)
}

// Backup walks pid's active transactions (spec.md §4.2).
func (m *TransactionManager) Backup(pid txnid.PartitionID) (txnid.TxnID, []partition.ActiveContextTuple, error) {
	return m.partitionFor(pid).BackupActiveContext()
}

// Restore removes and recreates pid, then replays the supplied tuples
// (spec.md §4.2 "Backup / restore").
func (m *TransactionManager) Restore(pid txnid.PartitionID, emNow txnid.EventTime, maxTxnID txnid.TxnID, tuples []partition.ActiveContextTuple) error {
	m.RemovePartition(pid)
	p := m.CreatePartition(pid)
	return p.RestoreActiveContext(emNow, maxTxnID, tuples)
}
