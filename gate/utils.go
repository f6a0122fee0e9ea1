package gate

import (
	"sort"

	"github.com/ethereum-optimism/infra/op-gatekeeper/types"
)

func sortedUnique(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// timedOut returns the ids of TIMEOUT results, sorted
func timedOut(results []types.SuiteResult) []string {
	var ids []string
	for _, res := range results {
		if res.Status == types.SuiteStatusTimeout {
			ids = append(ids, res.SuiteID)
		}
	}
	return sortedUnique(ids)
}
