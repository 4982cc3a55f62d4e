package dub

type matcher interface {
	match(i int) bool
}

type rangeMatch struct {
	start, end int
}

func (r rangeMatch) match(i int) bool {
	return (i >= r.start || r.start == -1) && (i <= r.end || r.end == -1)
}

var matchAll = rangeMatch{-1, -1}

type listMatch []int

func (l listMatch) match(i int) bool {
	for _, k := range l {
		if k == i {
			return true
		}
	}
	return false
}

// Match reports whether any item of the expression matches i.
func (m MatchExpr) Match(i int) bool {
	for _, mm := range m.matchers {
		if mm.match(i) {
			return true
		}
	}
	return false
}

// Select returns the ids matched by m, in the order given.
func (m MatchExpr) Select(ids []int) []int {
	var out []int
	for _, id := range ids {
		if m.Match(id) {
			out = append(out, id)
		}
	}
	return out
}
