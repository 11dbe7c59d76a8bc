package ledger

import "sort"

// TierTable maps a subscription tier to its monthly allotment.
type TierTable map[string]int64

func (t TierTable) Allotment(tier string) (int64, bool) {
	a, ok := t[tier]
	return a, ok
}

// Names returns the tier names sorted by allotment, then name.
func (t TierTable) Names() []string {
	names := make([]string, 0, len(t))
	for n := range t {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool {
		if t[names[i]] != t[names[j]] {
			return t[names[i]] < t[names[j]]
		}
		return names[i] < names[j]
	})
	return names
}
