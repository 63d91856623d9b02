package extraction

import (
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"

	"finledger/internal/core"
)

// merchantResolver snaps OCR-mangled merchant names to a configured list of
// known merchants.
type merchantResolver struct {
	known   []string
	folded  []string
	maxDist int
}

func newMerchantResolver(known []string, maxDist int) *merchantResolver {
	r := &merchantResolver{maxDist: maxDist}
	seen := map[string]bool{}
	for _, k := range known {
		name := strings.Join(strings.Fields(k), " ")
		f := core.FoldMerchant(name)
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		r.known = append(r.known, name)
		r.folded = append(r.folded, f)
	}
	return r
}

// resolve returns the display name to store. ok is false when the name is
// blank or two known merchants are equally close.
func (r *merchantResolver) resolve(raw string) (name string, ok bool) {
	name = strings.Join(strings.Fields(raw), " ")
	if name == "" {
		return "", false
	}
	if len(r.known) == 0 {
		return name, true
	}

	f := core.FoldMerchant(name)
	// Short names tolerate fewer edits, otherwise "Shell" would snap to "Dell".
	allowed := max(1, utf8.RuneCountInString(f)/4)
	allowed = min(allowed, r.maxDist)

	best, bestDist, ties := -1, allowed+1, 0
	for i, k := range r.folded {
		d := levenshtein.ComputeDistance(f, k)
		switch {
		case d < bestDist:
			best, bestDist, ties = i, d, 1
		case d == bestDist:
			ties++
		}
	}

	switch {
	case best == -1:
		return name, true
	case bestDist == 0:
		return r.known[best], true
	case ties > 1:
		return "", false
	default:
		return r.known[best], true
	}
}
