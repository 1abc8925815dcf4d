package alloc

import "iter"

// NodePair is one origin/destination node assignment.
type NodePair struct {
	Origin string
	Dest   string
}

// BalancedPairs yields count pairs by filling the origins×dests grid row by row:
// the destination advances every step and the origin advances whenever the
// destination wraps. Each origin sends at most ceil(count/len(origins)) and each
// destination receives at most ceil(count/len(dests)). Pairs are generated lazily.
func BalancedPairs(origins, dests []string, count int) iter.Seq[NodePair] {
	return func(yield func(NodePair) bool) {
		if len(origins) == 0 || len(dests) == 0 {
			return
		}
		o, d := 0, 0
		for i := 0; i < count; i++ {
			if !yield(NodePair{Origin: origins[o], Dest: dests[d]}) {
				return
			}
			d = (d + 1) % len(dests)
			if d == 0 {
				o = (o + 1) % len(origins)
			}
		}
	}
}
