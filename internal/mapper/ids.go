package mapper

import (
	"sort"
	"strings"
)

// lessID orders numeric ids by value and everything else lexically.
func lessID(a, b string) bool {
	if isDigits(a) && isDigits(b) {
		ta, tb := strings.TrimLeft(a, "0"), strings.TrimLeft(b, "0")
		if len(ta) != len(tb) {
			return len(ta) < len(tb)
		}
		if ta != tb {
			return ta < tb
		}
	}
	return a < b
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func sortIDs(ids []string) {
	sort.Slice(ids, func(i, j int) bool { return lessID(ids[i], ids[j]) })
}

func toSet(ids []string) map[string]struct{} {
	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}

// newCandidates returns after − before − mapped, sorted.
func newCandidates(before map[string]struct{}, after []string, mapped map[string]struct{}) []string {
	var out []string
	seen := make(map[string]struct{}, len(after))
	for _, id := range after {
		if _, ok := before[id]; ok {
			continue
		}
		if _, ok := mapped[id]; ok {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sortIDs(out)
	return out
}
