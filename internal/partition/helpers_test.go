package partition

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"dev.helix.code/internal/txnerr"
)

func NewSessionMapForTest() *SessionMap         { return NewSessionMap() }
func NewActiveTxnMapForTest() *ActiveTxnMap     { return NewActiveTxnMap() }
func NewReplicationMapForTest() *ReplicationMap { return NewReplicationMap() }

func assertDomainErr(t *testing.T, err error, code txnerr.Code) {
	t.Helper()
	de, ok := err.(*txnerr.Error)
	if !ok {
		t.Fatalf("expected *txnerr.Error, got %T (%v)", err, err)
		return
	}
	assert.Equal(t, code, de.Code)
}
