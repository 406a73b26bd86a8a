package xatomic

import "sync"

// Map is a generic, concurrency-safe key/value map used by the session
// registry for both of its indexes (by client id and by backend id) and
// by lineconn.Mux for its connection table, which the accept goroutine
// writes while the dispatcher reads it. It is a thin typed wrapper over
// sync.Map.
type Map[K comparable, V any] struct {
	m sync.Map
}

func (o *Map[K, V]) Load(key K) (V, bool) {
	v, ok := o.m.Load(key)
	if !ok {
		var zero V
		return zero, false
	}
	return v.(V), true
}

func (o *Map[K, V]) Store(key K, val V) {
	o.m.Store(key, val)
}

func (o *Map[K, V]) Delete(key K) {
	o.m.Delete(key)
}

// Range iterates over every entry; f returning false stops iteration early.
func (o *Map[K, V]) Range(f func(key K, val V) bool) {
	o.m.Range(func(k, v any) bool {
		return f(k.(K), v.(V))
	})
}

// Len walks the map to count entries. Intended for the introspection
// surface and tests, not for hot-path use.
func (o *Map[K, V]) Len() int {
	n := 0
	o.m.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
