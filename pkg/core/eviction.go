package core

import "sort"

// EvictionPolicy decides which turns leave the sliding window when its
// token budget is exceeded.
//
// SelectForEviction receives the full pre-eviction turn list (oldest
// first) and the minimum number of tokens that must be reclaimed. It
// returns zero-based indices into turns whose removal frees at least
// tokensToFree tokens whenever possible; when the whole window is
// smaller than the target, every index is returned.
type EvictionPolicy interface {
	SelectForEviction(turns []ConversationTurn, tokensToFree int) []int
}

// EvictionPolicyFunc adapts a plain function to the EvictionPolicy
// interface, so callers can supply ad hoc policies as closures.
type EvictionPolicyFunc func(turns []ConversationTurn, tokensToFree int) []int

// SelectForEviction implements EvictionPolicy.
func (f EvictionPolicyFunc) SelectForEviction(turns []ConversationTurn, tokensToFree int) []int {
	return f(turns, tokensToFree)
}

// FIFOEviction evicts the oldest turns first. It is the window's
// default policy.
type FIFOEviction struct{}

// SelectForEviction accumulates indices from the oldest turn until at
// least tokensToFree tokens have been freed.
func (FIFOEviction) SelectForEviction(turns []ConversationTurn, tokensToFree int) []int {
	indices := make([]int, 0, len(turns))
	freed := 0
	for i, turn := range turns {
		if freed >= tokensToFree {
			break
		}
		indices = append(indices, i)
		freed += turn.TokenCount
	}
	return indices
}

// ImportanceEviction evicts the turns with the lowest importance scores
// first. ImportanceFn assigns a score to each turn and must be non-nil;
// equal scores keep their original order.
type ImportanceEviction struct {
	ImportanceFn func(ConversationTurn) float64
}

// SelectForEviction sorts turns ascending by importance and accumulates
// the least important indices until at least tokensToFree tokens have
// been freed.
func (p ImportanceEviction) SelectForEviction(turns []ConversationTurn, tokensToFree int) []int {
	order := make([]int, len(turns))
	scores := make([]float64, len(turns))
	for i, turn := range turns {
		order[i] = i
		scores[i] = p.ImportanceFn(turn)
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] < scores[order[b]]
	})

	indices := make([]int, 0, len(turns))
	freed := 0
	for _, idx := range order {
		if freed >= tokensToFree {
			break
		}
		indices = append(indices, idx)
		freed += turns[idx].TokenCount
	}
	return indices
}

// PairedEviction evicts user+assistant turn pairs together so that a
// question is never separated from its answer. Consecutive turns with
// roles user then assistant form an atomic pair; any other turn is a
// singleton group. Groups are evicted oldest first with the pair's
// token cost counted as one unit.
//
// The scan is greedy: it guarantees at least tokensToFree tokens are
// freed when possible, not that the freed total is minimal.
type PairedEviction struct{}

// SelectForEviction evicts whole groups, oldest first, until at least
// tokensToFree tokens have been freed.
func (PairedEviction) SelectForEviction(turns []ConversationTurn, tokensToFree int) []int {
	type group struct {
		indices []int
		tokens  int
	}

	groups := make([]group, 0, len(turns))
	for i := 0; i < len(turns); {
		if turns[i].Role == RoleUser && i+1 < len(turns) && turns[i+1].Role == RoleAssistant {
			groups = append(groups, group{
				indices: []int{i, i + 1},
				tokens:  turns[i].TokenCount + turns[i+1].TokenCount,
			})
			i += 2
			continue
		}
		groups = append(groups, group{indices: []int{i}, tokens: turns[i].TokenCount})
		i++
	}

	indices := make([]int, 0, len(turns))
	freed := 0
	for _, g := range groups {
		if freed >= tokensToFree {
			break
		}
		indices = append(indices, g.indices...)
		freed += g.tokens
	}
	return indices
}
