package expr

// Scope resolves top-level names during evaluation.
type Scope interface {
	Lookup(name string) (any, bool)
}

// MapScope is a Scope backed by a plain map.
type MapScope map[string]any

// Lookup returns the value bound to name.
func (m MapScope) Lookup(name string) (any, bool) {
	v, ok := m[name]
	return v, ok
}

// Chain is a Scope that consults each scope in order.
type Chain []Scope

// Lookup returns the first binding of name found in the chain.
func (c Chain) Lookup(name string) (any, bool) {
	for _, s := range c {
		if s == nil {
			continue
		}
		if v, ok := s.Lookup(name); ok {
			return v, true
		}
	}
	return nil, false
}
