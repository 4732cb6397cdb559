package activity

// Severities, most severe first.
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
	SeverityInfo     = "info"
)

var severityRank = map[string]int{
	SeverityCritical: 0,
	SeverityWarning:  1,
	SeverityInfo:     2,
}

// IsAtLeast reports whether severity is at least as severe as min. Unknown
// severities rank below info.
func IsAtLeast(severity, min string) bool {
	s, ok := severityRank[severity]
	if !ok {
		s = len(severityRank)
	}
	m, ok := severityRank[min]
	if !ok {
		return true
	}
	return s <= m
}

// severitiesAtLeast lists the severities passing IsAtLeast(_, min).
func severitiesAtLeast(min string) []string {
	var out []string
	for _, s := range []string{SeverityCritical, SeverityWarning, SeverityInfo} {
		if IsAtLeast(s, min) {
			out = append(out, s)
		}
	}
	return out
}
