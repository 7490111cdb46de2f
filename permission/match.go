package permission

// Match reports whether the glob pattern matches the permission id.
//
// '*' matches any run of characters including ':' — a wildcard deliberately
// crosses segment boundaries, so "si:*" covers "si:invoice:create", not
// just ids with a single trailing segment. '?' matches exactly one
// character. Everything else matches literally.
func Match(pattern, id string) bool {
	// Iterative backtracking over the single most recent '*'. Linear in
	// len(id) for patterns with one star, worst-case quadratic otherwise.
	var (
		p, s         int
		starP, starS = -1, -1
	)

	for s < len(id) {
		switch {
		case p < len(pattern) && (pattern[p] == id[s] || pattern[p] == '?'):
			p++
			s++
		case p < len(pattern) && pattern[p] == '*':
			starP, starS = p, s
			p++
		case starP >= 0:
			starS++
			p = starP + 1
			s = starS
		default:
			return false
		}
	}

	for p < len(pattern) && pattern[p] == '*' {
		p++
	}
	return p == len(pattern)
}

// MatchAny reports whether any pattern in the list matches the id.
func MatchAny(patterns []string, id string) bool {
	for _, pattern := range patterns {
		if Match(pattern, id) {
			return true
		}
	}
	return false
}
