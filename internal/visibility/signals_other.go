//go:build !unix

package visibility

// Signals is unavailable on this platform and never reports a transition.
type Signals struct{ None }

func NewSignals() *Signals { return &Signals{} }
