package xcond

// Kind selects the condition variable behavior requested at creation.
// Only KindFast is implemented; anything else is a configuration error.
type Kind int

const KindFast Kind = iota

func (k Kind) String() string {
	if k == KindFast {
		return "fast"
	}
	return "unknown"
}

// Attr carries creation-time attributes for New. A nil Attr selects the
// defaults.
type Attr struct {
	Kind Kind
}
