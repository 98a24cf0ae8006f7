package reachability

import "context"

// FakeProber is a test double that returns a canned answer per host,
// defaulting to reachable for hosts not explicitly listed.
type FakeProber struct {
	Unreachable map[string]bool
}

// NewFakeProber returns a FakeProber where every host is reachable unless
// added to Unreachable.
func NewFakeProber(unreachable ...string) *FakeProber {
	set := make(map[string]bool, len(unreachable))
	for _, h := range unreachable {
		set[h] = true
	}
	return &FakeProber{Unreachable: set}
}

func (p *FakeProber) Probe(ctx context.Context, host string) (bool, error) {
	return !p.Unreachable[host], nil
}

var _ Prober = (*FakeProber)(nil)
