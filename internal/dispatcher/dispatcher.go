// Package dispatcher is the request-dispatcher collaborator named in
// spec.md §6 ("the request dispatcher (calls put/get/remove/the checks)").
// It authenticates each incoming node identity via a JWT bearer token
// before forwarding the call into txnmanager, grounded on the teacher's
// internal/auth GenerateJWT/VerifyJWT pattern.
package dispatcher

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"dev.helix.code/internal/partition"
	"dev.helix.code/internal/txnid"
	"dev.helix.code/internal/txnmanager"
)

// ErrTokenInvalid is returned when a bearer token fails verification.
var ErrTokenInvalid = fmt.Errorf("dispatcher: invalid token")

// Dispatcher authenticates callers and forwards their requests to a
// TransactionManager.
type Dispatcher struct {
	manager   *txnmanager.TransactionManager
	jwtSecret []byte
	tokenTTL  time.Duration
}

// Config configures a Dispatcher.
type Config struct {
	JWTSecret string
	TokenTTL  time.Duration
}

// New builds a Dispatcher over manager.
func New(cfg Config, manager *txnmanager.TransactionManager) *Dispatcher {
	ttl := cfg.TokenTTL
	if ttl == 0 {
		ttl = time.Hour
	}
	return &Dispatcher{manager: manager, jwtSecret: []byte(cfg.JWTSecret), tokenTTL: ttl}
}

// IssueNodeToken mints a bearer token identifying a calling node, used by
// the node-to-node transport to authenticate put/get/remove calls.
func (d *Dispatcher) IssueNodeToken(nodeID string) (string, error) {
	claims := jwt.MapClaims{
		"node_id": nodeID,
		"iat":     time.Now().Unix(),
		"exp":     time.Now().Add(d.tokenTTL).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(d.jwtSecret)
}

func (d *Dispatcher) verify(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("dispatcher: unexpected signing method: %v", token.Header["alg"])
		}
		return d.jwtSecret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", ErrTokenInvalid
	}
	nodeID, ok := claims["node_id"].(string)
	if !ok {
		return "", ErrTokenInvalid
	}
	return nodeID, nil
}

// Put authenticates token and forwards to TransactionManager.Put.
func (d *Dispatcher) Put(token string, pid txnid.PartitionID, params partition.PutParams) (*partition.Session, any, error) {
	if _, err := d.verify(token); err != nil {
		return nil, nil, err
	}
	return d.manager.Put(pid, params)
}

// Get authenticates token and forwards to TransactionManager.Get.
func (d *Dispatcher) Get(token string, pid txnid.PartitionID, clientID txnid.ClientID) (*partition.Session, error) {
	if _, err := d.verify(token); err != nil {
		return nil, err
	}
	return d.manager.Get(pid, clientID)
}

// Remove authenticates token and forwards to TransactionManager.Remove.
func (d *Dispatcher) Remove(token string, pid txnid.PartitionID, clientID txnid.ClientID) error {
	if _, err := d.verify(token); err != nil {
		return err
	}
	d.manager.Remove(pid, clientID)
	return nil
}

// CheckStatementAlreadyExecuted authenticates token and forwards the
// isolated idempotence check.
func (d *Dispatcher) CheckStatementAlreadyExecuted(token string, pid txnid.PartitionID, sess *partition.Session, statementID txnid.StatementID, isUpdateStmt bool) error {
	if _, err := d.verify(token); err != nil {
		return err
	}
	return d.manager.CheckStatementAlreadyExecuted(pid, sess, statementID, isUpdateStmt)
}

// CheckStatementContinuousInTransaction authenticates token and forwards
// the isolated continuity check.
func (d *Dispatcher) CheckStatementContinuousInTransaction(token string, pid txnid.PartitionID, sess *partition.Session, statementID txnid.StatementID, txnMode txnid.TxnMode) error {
	if _, err := d.verify(token); err != nil {
		return err
	}
	return d.manager.CheckStatementContinuousInTransaction(pid, sess, statementID, txnMode)
}

// Update authenticates token and records statementID as sess's last
// executed statement, once the statement it carries has actually run.
// Callers invoke this after Put and after the statement completes, so a
// retried statement id is rejected by CheckStatementAlreadyExecuted on the
// next Put.
func (d *Dispatcher) Update(token string, pid txnid.PartitionID, sess *partition.Session, statementID txnid.StatementID) error {
	if _, err := d.verify(token); err != nil {
		return err
	}
	d.manager.Update(pid, sess, statementID)
	return nil
}
