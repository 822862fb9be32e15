package txnmanager

import (
	"dev.helix.code/internal/partition"
	"dev.helix.code/internal/txnerr"
	"dev.helix.code/internal/txnid"
)

// ReplicationPutParams bundles the inputs to ReplicationPut (spec.md
// §4.3).
type ReplicationPutParams struct {
	PartitionID      txnid.PartitionID
	ClientID         txnid.ClientID
	ContainerID      txnid.ContainerID
	StatementType    string
	StatementID      txnid.StatementID
	ClientNodeHandle any
	EmNow            txnid.EventTime
}

// ReplicationPut allocates a new replication id and inserts a follow-up
// entry expiring at em_now + replication_timeout_interval_sec*1000.
func (m *TransactionManager) ReplicationPut(params ReplicationPutParams) (*partition.ReplicationContext, error) {
	p := m.partitionFor(params.PartitionID)
	g := m.groupForPartition(params.PartitionID)

	rid := p.AssignNewReplicationID()
	expire := params.EmNow.Add(int64(m.replicationTimeoutSec) * 1000)

	key := partition.ReplicationKey{PartitionID: params.PartitionID, ReplicationID: rid}
	v, err := g.replications.Create(key, expire, partition.ReplicationContext{
		ReplicationID:    rid,
		StatementType:    params.StatementType,
		ClientID:         params.ClientID,
		PartitionID:      params.PartitionID,
		ContainerID:      params.ContainerID,
		StatementID:      params.StatementID,
		ClientNodeHandle: params.ClientNodeHandle,
		ExpireTime:       expire,
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

// ReplicationGet fetches an existing replication follow-up, or fails
// replication-not-found.
func (m *TransactionManager) ReplicationGet(pid txnid.PartitionID, rid txnid.ReplicationID) (*partition.ReplicationContext, error) {
	g := m.groupForPartition(pid)
	v, err := g.replications.Get(partition.ReplicationKey{PartitionID: pid, ReplicationID: rid})
	if err != nil {
		return nil, txnerr.New(txnerr.ReplicationNotFound, "replication follow-up not found")
	}
	return v, nil
}

// ReplicationRemove deletes a replication follow-up (idempotent).
func (m *TransactionManager) ReplicationRemove(pid txnid.PartitionID, rid txnid.ReplicationID) {
	g := m.groupForPartition(pid)
	g.replications.Remove(partition.ReplicationKey{PartitionID: pid, ReplicationID: rid})
}
