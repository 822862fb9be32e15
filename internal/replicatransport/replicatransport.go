// Package replicatransport is the node-to-node transport collaborator
// spec.md §1 names as out of scope beyond its contract: "opaque handle for
// the replica destination". The core only ever stores and passes along the
// ClientNodeHandle field it is given (partition.ReplicationContext); this
// package is one concrete implementation of that handle, grounded on the
// teacher's gorilla/websocket usage in internal/config/config_api.go and
// internal/mcp/server.go.
package replicatransport

import (
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// NodeHandle is the opaque per-replica-destination handle a caller stores
// in partition.ReplicationContext.ClientNodeHandle. It wraps a single
// websocket connection; writes are serialized because gorilla/websocket
// forbids concurrent writers on one connection.
type NodeHandle struct {
	mu   sync.Mutex
	conn *websocket.Conn
	addr string
}

var dialer = websocket.Dialer{HandshakeTimeout: 10 * time.Second}

// Dial opens a connection to a replica node and returns its handle.
func Dial(host string, port int, path string) (*NodeHandle, error) {
	u := url.URL{Scheme: "ws", Host: fmt.Sprintf("%s:%d", host, port), Path: path}
	conn, _, err := dialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("replicatransport: dial %s: %w", u.String(), err)
	}
	return &NodeHandle{conn: conn, addr: u.String()}, nil
}

// Addr returns the destination address this handle was dialed against.
func (h *NodeHandle) Addr() string { return h.addr }

// SendReplicationPayload forwards the replicated statement bytes to the
// node this handle points at.
func (h *NodeHandle) SendReplicationPayload(payload []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
		return fmt.Errorf("replicatransport: write: %w", err)
	}
	return nil
}

// ReadAck blocks for the next ack frame from this node.
func (h *NodeHandle) ReadAck() ([]byte, error) {
	_, data, err := h.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("replicatransport: read: %w", err)
	}
	return data, nil
}

// Close closes the underlying connection.
func (h *NodeHandle) Close() error {
	return h.conn.Close()
}
