package authz

// ScopeFilter narrows which rows a principal may touch. It is a closed
// set of variants rather than a free-form map so the contract stays
// exhaustively checkable.
type ScopeFilter int

const (
	// NoRestriction applies no data-scope constraint.
	NoRestriction ScopeFilter = iota

	// OwnDepartmentOnly restricts reads and writes to rows whose owning
	// department matches the principal's department.
	OwnDepartmentOnly
)

func (f ScopeFilter) String() string {
	switch f {
	case OwnDepartmentOnly:
		return "own_department"
	default:
		return "none"
	}
}

// ParseScopeFilter maps the stored filter value to a variant. Unknown
// values collapse to the most restrictive variant: scoping must never
// widen because of bad data.
func ParseScopeFilter(s string) ScopeFilter {
	switch s {
	case "", "none":
		return NoRestriction
	default:
		return OwnDepartmentOnly
	}
}
