package realtime

import "sync"

// Connections tracks live connections per app and enforces the connection quota.
//
// Locking is scoped per app: the outer lock only guards the app index, and
// admissions for one app never contend with another app's admissions.
type Connections struct {
	mu   sync.RWMutex
	apps map[string]*appConns
}

type appConns struct {
	mu    sync.Mutex
	conns map[string]*Conn
}

// NewConnections constructs an empty registry.
func NewConnections() *Connections {
	return &Connections{apps: make(map[string]*appConns)}
}

// forApp returns the per-app entry, creating it on first use.
// Entries are kept for the process lifetime; the app set is bounded by configuration.
func (r *Connections) forApp(appID string) *appConns {
	r.mu.RLock()
	a := r.apps[appID]
	r.mu.RUnlock()
	if a != nil {
		return a
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if a = r.apps[appID]; a == nil {
		a = &appConns{conns: make(map[string]*Conn)}
		r.apps[appID] = a
	}
	return a
}

// admit registers c when the app is below maxConnections (0 = unlimited).
// The check and the insert happen under the same per-app lock, so two
// concurrent admissions can never both take the last slot.
func (r *Connections) admit(c *Conn) error {
	a := r.forApp(c.App.ID)

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, dup := a.conns[c.SocketID]; dup {
		return nil
	}
	if max := c.App.MaxConnections; max > 0 && len(a.conns) >= max {
		return ErrQuotaExceeded
	}
	a.conns[c.SocketID] = c
	return nil
}

// release unregisters c. It returns false when c was not registered.
func (r *Connections) release(c *Conn) bool {
	a := r.forApp(c.App.ID)

	a.mu.Lock()
	defer a.mu.Unlock()

	if cur, ok := a.conns[c.SocketID]; !ok || cur != c {
		return false
	}
	delete(a.conns, c.SocketID)
	return true
}

// Count returns the number of live connections for appID.
func (r *Connections) Count(appID string) int {
	r.mu.RLock()
	a := r.apps[appID]
	r.mu.RUnlock()
	if a == nil {
		return 0
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.conns)
}

// Lookup returns the live connection with socketID in appID.
func (r *Connections) Lookup(appID, socketID string) (*Conn, bool) {
	r.mu.RLock()
	a := r.apps[appID]
	r.mu.RUnlock()
	if a == nil {
		return nil, false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.conns[socketID]
	return c, ok
}

// All returns a snapshot of every live connection across apps.
func (r *Connections) All() []*Conn {
	r.mu.RLock()
	entries := make([]*appConns, 0, len(r.apps))
	for _, a := range r.apps {
		entries = append(entries, a)
	}
	r.mu.RUnlock()

	var out []*Conn
	for _, a := range entries {
		a.mu.Lock()
		for _, c := range a.conns {
			out = append(out, c)
		}
		a.mu.Unlock()
	}
	return out
}
