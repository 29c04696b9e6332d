package incident

import "sort"

// JurisdictionSet is the set of jurisdictions the engine accepts input for.
// The zero value accepts everything.
type JurisdictionSet map[string]struct{}

// NewJurisdictionSet builds a set from ids, ignoring empty strings.
func NewJurisdictionSet(ids ...string) JurisdictionSet {
	s := make(JurisdictionSet, len(ids))
	for _, id := range ids {
		if id != "" {
			s[id] = struct{}{}
		}
	}
	return s
}

// Contains reports whether id is accepted.
func (s JurisdictionSet) Contains(id string) bool {
	if len(s) == 0 {
		return true
	}
	_, ok := s[id]
	return ok
}

// IDs returns the members in sorted order.
func (s JurisdictionSet) IDs() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Shares returns each jurisdiction's fraction of incidents.
func Shares(incidents []Incident) map[string]float64 {
	if len(incidents) == 0 {
		return map[string]float64{}
	}
	counts := make(map[string]int)
	for _, inc := range incidents {
		counts[inc.Jurisdiction]++
	}
	out := make(map[string]float64, len(counts))
	for j, c := range counts {
		out[j] = float64(c) / float64(len(incidents))
	}
	return out
}
