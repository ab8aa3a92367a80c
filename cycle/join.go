// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package cycle

// JoinEdges greedily joins raw reference edges that share endpoints into
// multiedges (§4.H.join), a direct port of the five-case algorithm: an
// edge may close a path into a cycle, merge two distinct paths, extend one
// path at either end, or start a fresh one. Order of input edges can
// affect the exact decomposition when several joinings of equal length are
// possible; every input edge is preserved in exactly one output multiedge.
func JoinEdges(edges []Edge) []Edge {
	var multi []Edge
	startsAt := make(map[string]int)
	endsAt := make(map[string]int)

	for _, e := range edges {
		if len(e) == 0 {
			continue
		}
		start, end := e[0], e[len(e)-1]
		prependIdx, canPrepend := endsAt[start]
		appendIdx, canAppend := startsAt[end]

		switch {
		case canPrepend && canAppend && prependIdx == appendIdx:
			idx := prependIdx
			multi[idx] = append(multi[idx], e[1:]...)
			delete(endsAt, start)
			endsAt[end] = idx

		case canPrepend && canAppend:
			p, q := multi[prependIdx], multi[appendIdx]
			qStart, qEnd := q[0], q[len(q)-1]
			merged := make(Edge, 0, len(p)+len(e)-1+len(q)-1)
			merged = append(merged, p...)
			merged = append(merged, e[1:]...)
			merged = append(merged, q[1:]...)
			multi[prependIdx] = merged
			multi[appendIdx] = nil
			delete(endsAt, start)
			endsAt[qEnd] = prependIdx
			delete(startsAt, qStart)

		case canPrepend:
			idx := prependIdx
			multi[idx] = append(multi[idx], e[1:]...)
			delete(endsAt, start)
			endsAt[end] = idx

		case canAppend:
			idx := appendIdx
			extended := make(Edge, 0, len(e)-1+len(multi[idx]))
			extended = append(extended, e[:len(e)-1]...)
			extended = append(extended, multi[idx]...)
			multi[idx] = extended
			delete(startsAt, end)
			startsAt[start] = idx

		default:
			idx := len(multi)
			multi = append(multi, append(Edge(nil), e...))
			startsAt[start] = idx
			endsAt[end] = idx
		}
	}

	out := make([]Edge, 0, len(multi))
	for _, p := range multi {
		if len(p) > 0 {
			out = append(out, p)
		}
	}
	return out
}
