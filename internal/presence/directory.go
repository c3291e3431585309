package presence

import (
	"sync"

	"secure_chat/internal/model"
)

// Conn is one live client connection as the delivery path sees it: something
// a frame can be pushed to. The concrete type is a websocket session locally
// or a pub/sub bridge when the receiver sits on another relay process.
type Conn interface {
	Push(frame *model.Frame) error
}

// Directory is the per-process registry of who is connected and which public
// key they last published. Identities come in two alias forms (UUID and
// email); both point at the same connection and key. Connection entries die
// with the socket, published keys survive it so offline peers stay
// encryptable-to.
//
// Across multiple relay processes this is a local cache only; remote
// delivery goes through the pub/sub fan-out.
type Directory struct {
	mu      sync.RWMutex
	conns   map[string]Conn     // identity -> live connection
	aliases map[Conn][]string   // reverse: connection -> identity forms
	pubKeys map[string]string   // identity -> latest published key, base64
}

func NewDirectory() *Directory {
	return &Directory{
		conns:   make(map[string]Conn),
		aliases: make(map[Conn][]string),
		pubKeys: make(map[string]string),
	}
}

// MarkOnline registers every alias form against the connection. A non-empty
// publicKey overwrites the stored key for all forms; last write wins, no
// history is kept here.
func (d *Directory) MarkOnline(identities []string, conn Conn, publicKey string) {
	if len(identities) == 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, id := range identities {
		d.conns[id] = conn
		if publicKey != "" {
			d.pubKeys[id] = publicKey
		}
	}
	d.aliases[conn] = append([]string(nil), identities...)
}

// LookupConn returns the live connection for an identity, or nil. A nil
// result is a normal branch (the peer is offline), not a failure.
func (d *Directory) LookupConn(identity string) Conn {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.conns[identity]
}

// LookupPublicKey returns the latest published key for an identity, or "".
func (d *Directory) LookupPublicKey(identity string) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.pubKeys[identity]
}

// SetPublicKey caches a key published out-of-band (the REST endpoint).
func (d *Directory) SetPublicKey(identity, publicKey string) {
	if identity == "" || publicKey == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pubKeys[identity] = publicKey
}

// MarkOffline drops every identity form that points at exactly this
// connection and returns the forms removed. Published keys are left in
// place. Identities rebound to a newer connection in the meantime are not
// touched.
func (d *Directory) MarkOffline(conn Conn) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := d.aliases[conn]
	delete(d.aliases, conn)
	var removed []string
	for _, id := range ids {
		if d.conns[id] == conn {
			delete(d.conns, id)
			removed = append(removed, id)
		}
	}
	return removed
}

// Conns returns every live connection, one entry per socket.
func (d *Directory) Conns() []Conn {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Conn, 0, len(d.aliases))
	for c := range d.aliases {
		out = append(out, c)
	}
	return out
}

// Online reports whether any connection is registered for the identity.
func (d *Directory) Online(identity string) bool {
	return d.LookupConn(identity) != nil
}
