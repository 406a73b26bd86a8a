package session

import "github.com/nabbar/muproxy/internal/lineconn"

// DestroySession closes both of a session's sockets (if present) and
// removes it from the registry. A session owns both its client and
// backend sockets, so both are closed here together rather than leaving
// either to its caller.
func (r *Registry) DestroySession(mux *lineconn.Mux, s *Session) {
	mux.Close(s.ClientID)
	if s.HasBackend {
		mux.Close(s.BackendID)
	}
	r.Destroy(s)
}
