// Package selector narrows the full tool catalog to a budget-constrained
// subset relevant to one user message. Selection is a pure function over its
// inputs: deterministic keyword scoring, no learned ranking, and it never
// fails — degenerate input yields an essential-only or empty subset.
package selector

import (
	"sort"
	"strings"
	"unicode"

	"github.com/azcoigreach/nagatha-assistant-sub002/internal/config"
	"github.com/azcoigreach/nagatha-assistant-sub002/internal/tools"
)

// Select returns at most budget descriptors from catalog, most relevant to
// message first. Essential tools (cfg.Essential) are always included while
// the budget allows; scored entries follow in descending score with
// catalog-order tie-break; any remaining budget is filled with unscored
// entries in catalog order. A budget covering the whole catalog returns the
// catalog unchanged in its canonical order.
func Select(catalog []tools.Descriptor, message string, budget int, cfg config.SelectorConfig) []tools.Descriptor {
	if budget >= len(catalog) {
		out := make([]tools.Descriptor, len(catalog))
		copy(out, catalog)
		return out
	}
	if budget <= 0 {
		return []tools.Descriptor{}
	}

	msgTokens := tokenize(message)
	lowerMsg := strings.ToLower(message)

	essential := make(map[string]bool, len(cfg.Essential))
	for _, name := range cfg.Essential {
		essential[name] = true
	}

	picks := make([]int, 0, budget)
	used := make([]bool, len(catalog))

	// Essentials first, in catalog order.
	for i, d := range catalog {
		if len(picks) == budget {
			break
		}
		if essential[d.Name] {
			picks = append(picks, i)
			used[i] = true
		}
	}

	// Scored entries, descending, catalog order on ties.
	type scored struct {
		idx   int
		score int
	}
	ranked := make([]scored, 0, len(catalog))
	for i, d := range catalog {
		if used[i] {
			continue
		}
		if s := scoreEntry(d, msgTokens, lowerMsg, cfg); s > 0 {
			ranked = append(ranked, scored{idx: i, score: s})
		}
	}
	sort.SliceStable(ranked, func(a, b int) bool {
		return ranked[a].score > ranked[b].score
	})
	for _, r := range ranked {
		if len(picks) == budget {
			break
		}
		picks = append(picks, r.idx)
		used[r.idx] = true
	}

	// Fill the remainder with unscored entries in catalog order.
	for i := range catalog {
		if len(picks) == budget {
			break
		}
		if !used[i] {
			picks = append(picks, i)
			used[i] = true
		}
	}

	out := make([]tools.Descriptor, 0, len(picks))
	for _, i := range picks {
		out = append(out, catalog[i])
	}
	return out
}

// scoreEntry counts distinct message tokens appearing in the entry's name or
// description, plus cfg.CategoryBonus for every configured category whose
// name appears in the entry and whose trigger words appear in the message.
func scoreEntry(d tools.Descriptor, msgTokens map[string]bool, lowerMsg string, cfg config.SelectorConfig) int {
	if len(msgTokens) == 0 {
		return 0
	}

	name := strings.ToLower(d.Name)
	desc := strings.ToLower(d.Description)
	entryTokens := tokenize(name + " " + desc)

	score := 0
	for tok := range msgTokens {
		if entryTokens[tok] {
			score++
		}
	}

	for category, triggers := range cfg.Keywords {
		cat := strings.ToLower(category)
		if !strings.Contains(name, cat) && !strings.Contains(desc, cat) {
			continue
		}
		for _, trigger := range triggers {
			if messageHas(msgTokens, lowerMsg, strings.ToLower(trigger)) {
				score += cfg.CategoryBonus
				break
			}
		}
	}
	return score
}

// messageHas matches single-word triggers against message tokens and
// multi-word triggers as substrings, so "my" never matches "mystery".
func messageHas(msgTokens map[string]bool, lowerMsg, trigger string) bool {
	if strings.ContainsRune(trigger, ' ') {
		return strings.Contains(lowerMsg, trigger)
	}
	return msgTokens[trigger]
}

func tokenize(s string) map[string]bool {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		set[f] = true
	}
	return set
}
