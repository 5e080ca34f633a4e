package contract

import "github.com/petal-labs/nighthawk/core"

// AllowedKinds computes the outcome kinds accepted at a call site.
// The base set is pass, return and raise; break and continue are added
// inside a loop. Denied kinds are removed last.
func AllowedKinds(inLoop bool, denied []core.Kind) []core.Kind {
	allowed := make([]core.Kind, 0, len(core.Kinds))
	for _, k := range core.Kinds {
		if !inLoop && (k == core.KindBreak || k == core.KindContinue) {
			continue
		}
		if core.ContainsKind(denied, k) {
			continue
		}
		allowed = append(allowed, k)
	}
	return allowed
}
