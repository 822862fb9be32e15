// Package partition implements the per-partition state described in
// spec.md §4.2: transaction/replication id assignment, the session `put`
// state machine, and backup/restore of active transactions. A Partition
// does not own storage itself — it delegates to the three maps shared by
// its partition group (internal/txnmanager), filtering by partition id.
package partition

import (
	"fmt"

	"dev.helix.code/internal/expiremap"
	"dev.helix.code/internal/txnerr"
	"dev.helix.code/internal/txnid"
)

// ActiveTxnKey indexes the active-transaction map shared by a partition
// group.
type ActiveTxnKey struct {
	PartitionID txnid.PartitionID
	TxnID       txnid.TxnID
}

// ActiveTxnValue is the active-transaction map's value: the owning
// client.
type ActiveTxnValue struct {
	ClientID txnid.ClientID
}

// ReplicationKey indexes the replication map shared by a partition group.
type ReplicationKey struct {
	PartitionID   txnid.PartitionID
	ReplicationID txnid.ReplicationID
}

// SessionMap, ActiveTxnMap and ReplicationMap are the three partition-group
// scoped expiring maps a Partition operates against.
type SessionMap = expiremap.Map[txnid.ClientID, Session]
type ActiveTxnMap = expiremap.Map[ActiveTxnKey, ActiveTxnValue]
type ReplicationMap = expiremap.Map[ReplicationKey, ReplicationContext]

// sessionElementSize/activeTxnElementSize/replicationElementSize are rough
// per-entry accounting sizes (bytes) for the memory-usage read-outs of
// TransactionManager.Stats (internal/txnmanager); they need not be exact.
const (
	sessionElementSize     = 128
	activeTxnElementSize   = 48
	replicationElementSize = 96
)

// NewSessionMap constructs an empty session map for one partition group.
func NewSessionMap() *SessionMap { return expiremap.New[txnid.ClientID, Session](sessionElementSize) }

// NewActiveTxnMap constructs an empty active-transaction map for one
// partition group.
func NewActiveTxnMap() *ActiveTxnMap {
	return expiremap.New[ActiveTxnKey, ActiveTxnValue](activeTxnElementSize)
}

// NewReplicationMap constructs an empty replication map for one partition
// group.
func NewReplicationMap() *ReplicationMap {
	return expiremap.New[ReplicationKey, ReplicationContext](replicationElementSize)
}

// Container is the commit/abort collaborator called when a transaction
// ends (spec.md §6). Implementations must be idempotent with respect to
// being called on a session whose transaction is already ending.
type Container interface {
	Commit(session *Session) error
	Abort(session *Session) error
}

// ClampConfig carries the timeout-clamping thresholds from spec.md §4.2.
type ClampConfig struct {
	MinTimeoutSec     int
	StableTimeoutSec  int
	CeilingTimeoutSec int
}

// ClampTimeout applies the spec.md §4.2 clamp in both directions (see
// SPEC_FULL.md "SUPPLEMENTED FEATURES": the original clamps up to a
// stable floor and down to a configured ceiling).
func (c ClampConfig) ClampTimeout(requestedSec int) int {
	if requestedSec < c.MinTimeoutSec {
		return c.StableTimeoutSec
	}
	if requestedSec > c.CeilingTimeoutSec {
		return c.CeilingTimeoutSec
	}
	return requestedSec
}

// Partition is the per-partition authority over transaction/replication
// id assignment and the session `put` state machine.
type Partition struct {
	ID txnid.PartitionID

	nextTxnID         txnid.TxnID
	nextReplicationID txnid.ReplicationID

	TxnTimeoutCount  uint64
	ReqTimeoutCount  uint64
	ReplTimeoutCount uint64

	sessions     *SessionMap
	activeTxns   *ActiveTxnMap
	replications *ReplicationMap
	container    Container
	clamp        ClampConfig

	autoSession Session
}

// New constructs a Partition bound to its partition group's three shared
// maps and to the container collaborator used for commit/abort.
func New(id txnid.PartitionID, sessions *SessionMap, activeTxns *ActiveTxnMap, replications *ReplicationMap, container Container, clamp ClampConfig) *Partition {
	return &Partition{
		ID:           id,
		sessions:     sessions,
		activeTxns:   activeTxns,
		replications: replications,
		container:    container,
		clamp:        clamp,
	}
}

// NextTxnID returns the partition's current counter without assigning one.
func (p *Partition) NextTxnID() txnid.TxnID { return p.nextTxnID }

// AssignNewTransactionID returns the next strictly increasing transaction
// id for this partition.
func (p *Partition) AssignNewTransactionID() txnid.TxnID {
	p.nextTxnID++
	return p.nextTxnID
}

// AssignNewReplicationID returns the next strictly increasing replication
// id for this partition.
func (p *Partition) AssignNewReplicationID() txnid.ReplicationID {
	p.nextReplicationID++
	return p.nextReplicationID
}

// PutParams bundles the inputs to Put (spec.md §4.2).
type PutParams struct {
	ClientID                  txnid.ClientID
	ContainerID               txnid.ContainerID
	StatementID               txnid.StatementID
	TxnTimeoutIntervalSeconds int
	Now                       txnid.EventTime // wall-clock absolute
	EmNow                     txnid.EventTime // monotonic event time
	GetMode                   txnid.GetMode
	TxnMode                   txnid.TxnMode
	IsUpdateStmt              bool
	IsRedo                    bool
	ExplicitTxnID             *txnid.TxnID
}

// wrapErr attaches partition/client/mode context to an internal failure,
// per spec.md §7's wrapped-internal-error family.
func (p *Partition) wrapErr(clientID txnid.ClientID, mode txnid.GetMode, err error) error {
	return fmt.Errorf("partition %d client %s mode %s: %w", p.ID, clientID, mode, err)
}

// Put implements the session `put` state machine of spec.md §4.2: it
// resolves (creates/fetches) the session per GetMode, runs the
// idempotence checks, then drives the embedded transaction transition per
// TxnMode. It returns the resolved session or a *txnerr.Error domain
// failure.
func (p *Partition) Put(params PutParams) (*Session, error) {
	if !params.GetMode.IsValid() {
		return nil, txnerr.New(txnerr.CreationModeInvalid, "unknown get_mode")
	}
	if !params.TxnMode.IsValid() {
		return nil, txnerr.New(txnerr.TransactionModeInvalid, "unknown txn_mode")
	}

	// clampedSec is the raw per-transaction timeout after clamping; it
	// drives txn_expire_time. contextExpire additionally floors at
	// StableTimeoutSec — a session is never scanned faster than the
	// stable interval even if its transaction timeout is shorter
	// (spec.md §3 invariant).
	clampedSec := p.clamp.ClampTimeout(params.TxnTimeoutIntervalSeconds)
	floorSec := clampedSec
	if floorSec < p.clamp.StableTimeoutSec {
		floorSec = p.clamp.StableTimeoutSec
	}
	contextExpire := params.EmNow.Add(int64(floorSec) * 1000)

	sess, err := p.resolveSession(params, contextExpire)
	if err != nil {
		return nil, err
	}

	if params.GetMode == txnid.GetModeGet && !params.IsRedo {
		if err := p.checkStatementAlreadyExecuted(sess, params.StatementID, params.IsUpdateStmt); err != nil {
			return nil, err
		}
		if err := p.checkStatementContinuous(sess, params.StatementID, params.TxnMode); err != nil {
			return nil, err
		}
	}

	sess.TxnTimeoutIntervalSeconds = clampedSec

	if err := p.transitionTxn(sess, params); err != nil {
		return nil, err
	}

	if params.GetMode != txnid.GetModeAuto {
		if uerr := p.sessions.Update(sess.ClientID, sess.EffectiveExpireTime()); uerr != nil {
			return nil, p.wrapErr(params.ClientID, params.GetMode, uerr)
		}
	}
	return sess, nil
}

func (p *Partition) resolveSession(params PutParams, newExpire txnid.EventTime) (*Session, error) {
	switch params.GetMode {
	case txnid.GetModeCreate:
		if params.TxnMode == txnid.TxnModeNoAutoCommitContinue {
			return nil, txnerr.New(txnerr.TransactionModeInvalid, "CREATE cannot continue a transaction")
		}
		if _, err := p.sessions.Get(params.ClientID); err == nil {
			return nil, txnerr.New(txnerr.CreationModeInvalid, "session already exists")
		}
		sess := Session{
			ClientID:          params.ClientID,
			PartitionID:       p.ID,
			ContainerID:       params.ContainerID,
			ContextExpireTime: newExpire,
		}
		v, err := p.sessions.Create(params.ClientID, newExpire, sess)
		if err != nil {
			return nil, p.wrapErr(params.ClientID, params.GetMode, err)
		}
		return v, nil

	case txnid.GetModeGet:
		v, err := p.sessions.Get(params.ClientID)
		if err != nil {
			return nil, txnerr.New(txnerr.ContextNotFound, "session not found")
		}
		v.ContextExpireTime = newExpire
		return v, nil

	case txnid.GetModePut:
		v, err := p.sessions.Get(params.ClientID)
		if err == nil {
			v.ContextExpireTime = newExpire
			return v, nil
		}
		sess := Session{
			ClientID:          params.ClientID,
			PartitionID:       p.ID,
			ContainerID:       params.ContainerID,
			ContextExpireTime: newExpire,
		}
		nv, cerr := p.sessions.Create(params.ClientID, newExpire, sess)
		if cerr != nil {
			return nil, p.wrapErr(params.ClientID, params.GetMode, cerr)
		}
		return nv, nil

	case txnid.GetModeAuto:
		if params.TxnMode != txnid.TxnModeAutoCommit {
			return nil, txnerr.New(txnerr.TransactionModeInvalid, "AUTO get_mode requires AUTO_COMMIT")
		}
		p.autoSession.reset()
		p.autoSession.ClientID = params.ClientID
		p.autoSession.PartitionID = p.ID
		p.autoSession.ContainerID = params.ContainerID
		p.autoSession.ContextExpireTime = newExpire
		return &p.autoSession, nil
	}
	return nil, txnerr.New(txnerr.CreationModeInvalid, "unreachable get_mode")
}

// checkStatementAlreadyExecuted is the already-executed check run by Put;
// CheckStatementAlreadyExecuted exposes it so it can be called
// independently of Put (spec.md §4.2, "Checks in isolation").
func (p *Partition) checkStatementAlreadyExecuted(sess *Session, statementID txnid.StatementID, isUpdateStmt bool) error {
	if isUpdateStmt && statementID <= sess.LastStatementID {
		return txnerr.New(txnerr.StatementAlreadyExecuted, "statement already executed")
	}
	return nil
}

// CheckStatementAlreadyExecuted is the public entry point for running the
// already-executed check outside the normal Put path.
func (p *Partition) CheckStatementAlreadyExecuted(sess *Session, statementID txnid.StatementID, isUpdateStmt bool) error {
	return p.checkStatementAlreadyExecuted(sess, statementID, isUpdateStmt)
}

func (p *Partition) checkStatementContinuous(sess *Session, statementID txnid.StatementID, txnMode txnid.TxnMode) error {
	if statementID > sess.LastStatementID+1 && txnMode == txnid.TxnModeNoAutoCommitContinue {
		return txnerr.New(txnerr.StatementInvalid, "statement id is not continuous")
	}
	return nil
}

// CheckStatementContinuousInTransaction is the public entry point for
// running the continuity check outside the normal Put path.
func (p *Partition) CheckStatementContinuousInTransaction(sess *Session, statementID txnid.StatementID, txnMode txnid.TxnMode) error {
	return p.checkStatementContinuous(sess, statementID, txnMode)
}

// Update records statementID as sess's last executed statement, so a later
// retry of the same statement id fails the already-executed check instead
// of re-applying it (spec.md §4.2 "Checks in isolation"). last_statement_id
// only increases (spec.md §3 invariant), so an out-of-order or stale Update
// call can never roll it backward.
func (p *Partition) Update(sess *Session, statementID txnid.StatementID) {
	if statementID > sess.LastStatementID {
		sess.LastStatementID = statementID
	}
}

func (p *Partition) transitionTxn(sess *Session, params PutParams) error {
	switch params.TxnMode {
	case txnid.TxnModeAutoCommit:
		if sess.Txn.IsActive() {
			return txnerr.New(txnerr.TransactionAlreadyBegin, "transaction already active")
		}
		sess.Txn.TxnID = txnid.AutoCommitTxnID
		sess.Txn.TxnStartTime = params.EmNow
		sess.Txn.TxnExpireTime = params.EmNow.Add(int64(sess.TxnTimeoutIntervalSeconds) * 1000)
		return nil

	case txnid.TxnModeNoAutoCommitBegin:
		if sess.Txn.IsActive() {
			return nil // silently continue
		}
		return p.begin(sess, params)

	case txnid.TxnModeNoAutoCommitContinue:
		if !sess.Txn.IsActive() {
			return txnerr.New(txnerr.TransactionNotFound, "no active transaction to continue")
		}
		return nil

	case txnid.TxnModeNoAutoCommitBeginOrCont:
		if sess.Txn.IsActive() {
			return nil
		}
		return p.begin(sess, params)
	}
	return txnerr.New(txnerr.TransactionModeInvalid, "unreachable txn_mode")
}

// begin installs an active-transaction map entry, marks the session's
// transaction ACTIVE, and advances next_txn_id on the restore path where a
// larger explicit id is supplied.
func (p *Partition) begin(sess *Session, params PutParams) error {
	var id txnid.TxnID
	if params.ExplicitTxnID != nil {
		id = *params.ExplicitTxnID
		if id > p.nextTxnID {
			p.nextTxnID = id
		}
	} else {
		id = p.AssignNewTransactionID()
	}

	key := ActiveTxnKey{PartitionID: p.ID, TxnID: id}
	if _, err := p.activeTxns.CreateNoExpire(key, ActiveTxnValue{ClientID: sess.ClientID}); err != nil {
		return p.wrapErr(sess.ClientID, params.GetMode, err)
	}

	sess.Txn.State = txnid.TxnStateActive
	sess.Txn.TxnID = id
	sess.Txn.TxnStartTime = params.EmNow
	sess.Txn.TxnExpireTime = params.EmNow.Add(int64(sess.TxnTimeoutIntervalSeconds) * 1000)
	return nil
}

// Begin is the standalone "begin" verb (spec.md §2) for callers that have
// already resolved a session and decided, outside the Put state machine,
// that a transaction should start.
func (p *Partition) Begin(sess *Session, emNow txnid.EventTime, explicitTxnID *txnid.TxnID) error {
	if sess.Txn.IsActive() {
		return txnerr.New(txnerr.TransactionAlreadyBegin, "transaction already active")
	}
	if err := p.begin(sess, PutParams{ClientID: sess.ClientID, EmNow: emNow, GetMode: txnid.GetModeGet, ExplicitTxnID: explicitTxnID}); err != nil {
		return err
	}
	if err := p.sessions.Update(sess.ClientID, sess.EffectiveExpireTime()); err != nil && err != expiremap.ErrNotFound {
		return p.wrapErr(sess.ClientID, txnid.GetModeGet, err)
	}
	return nil
}

// endTxn is shared by Commit and Abort: removes the active-transaction
// entry and marks the session's transaction INACTIVE.
func (p *Partition) endTxn(sess *Session) {
	if sess.Txn.TxnID != txnid.AutoCommitTxnID {
		p.activeTxns.Remove(ActiveTxnKey{PartitionID: p.ID, TxnID: sess.Txn.TxnID})
	}
	sess.Txn = Transaction{}
}

// Commit ends sess's transaction (an ACTIVE one, or the auto-commit one Put
// sets up), calling container.Commit first. Fails with
// transaction-commit-not-allowed if the session carries no transaction.
func (p *Partition) Commit(sess *Session) error {
	if sess.Txn == (Transaction{}) {
		return txnerr.New(txnerr.TransactionCommitNotAllowed, "no active transaction")
	}
	if p.container != nil {
		if err := p.container.Commit(sess); err != nil {
			return fmt.Errorf("partition %d client %s: commit: %w", p.ID, sess.ClientID, err)
		}
	}
	p.endTxn(sess)
	// A session resolved via GetModeAuto has no map entry (it is the
	// pooled stub); Update is then a deliberate no-op rather than a
	// failure.
	if err := p.sessions.Update(sess.ClientID, sess.EffectiveExpireTime()); err != nil && err != expiremap.ErrNotFound {
		return p.wrapErr(sess.ClientID, txnid.GetModeGet, err)
	}
	return nil
}

// Abort ends sess's transaction (an ACTIVE one, or the auto-commit one Put
// sets up), calling container.Abort first. Fails with
// transaction-abort-not-allowed if the session carries no transaction.
func (p *Partition) Abort(sess *Session) error {
	if sess.Txn == (Transaction{}) {
		return txnerr.New(txnerr.TransactionAbortNotAllowed, "no active transaction")
	}
	if p.container != nil {
		if err := p.container.Abort(sess); err != nil {
			return fmt.Errorf("partition %d client %s: abort: %w", p.ID, sess.ClientID, err)
		}
	}
	p.endTxn(sess)
	// A session resolved via GetModeAuto has no map entry (it is the
	// pooled stub); Update is then a deliberate no-op rather than a
	// failure.
	if err := p.sessions.Update(sess.ClientID, sess.EffectiveExpireTime()); err != nil && err != expiremap.ErrNotFound {
		return p.wrapErr(sess.ClientID, txnid.GetModeGet, err)
	}
	return nil
}

// IsActiveTransaction reports whether (pid, txnID) is currently installed
// in the active-transaction map.
func (p *Partition) IsActiveTransaction(txnID txnid.TxnID) bool {
	_, err := p.activeTxns.Get(ActiveTxnKey{PartitionID: p.ID, TxnID: txnID})
	return err == nil
}

// ActiveContextTuple is one row of a backup/restore snapshot (spec.md
// §4.2 "Backup / restore").
type ActiveContextTuple struct {
	ClientID          txnid.ClientID
	TxnID             txnid.TxnID
	ContainerID       txnid.ContainerID
	LastStatementID   txnid.StatementID
	TxnTimeoutSeconds int
}

// BackupActiveContext walks the active-transaction map for this partition,
// joins each entry to its session, and returns the tuples plus the
// highest txn id observed. It fails with context-not-found if an active
// transaction's session is missing.
func (p *Partition) BackupActiveContext() (txnid.TxnID, []ActiveContextTuple, error) {
	var maxTxnID txnid.TxnID
	var tuples []ActiveContextTuple
	var joinErr error

	p.activeTxns.Cursor(func(key ActiveTxnKey, val *ActiveTxnValue) bool {
		if key.PartitionID != p.ID {
			return true
		}
		sess, err := p.sessions.Get(val.ClientID)
		if err != nil {
			joinErr = txnerr.New(txnerr.ContextNotFound, "active transaction has no session")
			return false
		}
		tuples = append(tuples, ActiveContextTuple{
			ClientID:          val.ClientID,
			TxnID:             key.TxnID,
			ContainerID:       sess.ContainerID,
			LastStatementID:   sess.LastStatementID,
			TxnTimeoutSeconds: sess.TxnTimeoutIntervalSeconds,
		})
		if key.TxnID > maxTxnID {
			maxTxnID = key.TxnID
		}
		return true
	})
	if joinErr != nil {
		return 0, nil, joinErr
	}
	return maxTxnID, tuples, nil
}

// RestoreActiveContext recreates each tuple's session and transaction,
// then sets next_txn_id to maxTxnID so future assignment is strictly
// greater than any id seen before (spec.md §8 property 3).
func (p *Partition) RestoreActiveContext(emNow txnid.EventTime, maxTxnID txnid.TxnID, tuples []ActiveContextTuple) error {
	for _, t := range tuples {
		clampedSec := p.clamp.ClampTimeout(t.TxnTimeoutSeconds)
		floorSec := clampedSec
		if floorSec < p.clamp.StableTimeoutSec {
			floorSec = p.clamp.StableTimeoutSec
		}
		contextExpire := emNow.Add(int64(floorSec) * 1000)

		sess := Session{
			ClientID:                  t.ClientID,
			PartitionID:               p.ID,
			ContainerID:               t.ContainerID,
			LastStatementID:           t.LastStatementID,
			ContextExpireTime:         contextExpire,
			TxnTimeoutIntervalSeconds: clampedSec,
		}
		v, err := p.sessions.Create(t.ClientID, contextExpire, sess)
		if err != nil {
			return p.wrapErr(t.ClientID, txnid.GetModeCreate, err)
		}

		txnID := t.TxnID
		if err := p.begin(v, PutParams{
			ClientID:      t.ClientID,
			EmNow:         emNow,
			GetMode:       txnid.GetModeCreate,
			ExplicitTxnID: &txnID,
		}); err != nil {
			return err
		}
		if uerr := p.sessions.Update(v.ClientID, v.EffectiveExpireTime()); uerr != nil {
			return p.wrapErr(t.ClientID, txnid.GetModeCreate, uerr)
		}
	}
	p.nextTxnID = maxTxnID
	return nil
}
