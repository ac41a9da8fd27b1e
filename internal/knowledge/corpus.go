// Package knowledge implements the internal regulation lookup: a ranked
// keyword search over the stored regulation corpus, formatted as a single
// text block for downstream prompts.
package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/verityops/plandrift/internal/store"
)

// NoResultsMessage is returned verbatim when nothing in the corpus matches.
// Downstream prompts treat it as ordinary evidence text.
const NoResultsMessage = "No relevant regulations found in knowledge base."

// Corpus searches the regulation table by query-token overlap. Scoring is
// deliberately simple: count of distinct query tokens appearing in the
// title, keywords, or body, with title and keyword hits weighted above
// body hits. Ties break on regulation ID for determinism.
type Corpus struct {
	store  store.Store
	logger *slog.Logger
}

// New creates a Corpus over the given store.
func New(s store.Store, logger *slog.Logger) *Corpus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Corpus{store: s, logger: logger}
}

type scored struct {
	reg   *store.Regulation
	score float64
}

// LookupKnowledge returns the top-K matching regulations formatted as one
// text block. An empty corpus or a query with no matches yields the
// no-results message, never an error.
func (c *Corpus) LookupKnowledge(ctx context.Context, query string, topK int) (string, error) {
	if topK <= 0 {
		topK = 5
	}

	regs, err := c.store.ListRegulations(ctx)
	if err != nil {
		return "", fmt.Errorf("list regulations: %w", err)
	}

	tokens := tokenize(query)
	if len(regs) == 0 || len(tokens) == 0 {
		return NoResultsMessage, nil
	}

	var matches []scored
	for _, reg := range regs {
		s := score(tokens, reg)
		if s > 0 {
			matches = append(matches, scored{reg: reg, score: s})
		}
	}
	if len(matches) == 0 {
		return NoResultsMessage, nil
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		return matches[i].reg.ID < matches[j].reg.ID
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}

	var parts []string
	for _, m := range matches {
		source := m.reg.Title
		if m.reg.Citation != "" {
			source += " (" + m.reg.Citation + ")"
		}
		parts = append(parts, fmt.Sprintf("[Source: %s] (Relevance: %.2f)\n%s", source, m.score, m.reg.Body))
	}

	c.logger.DebugContext(ctx, "knowledge lookup", "matches", len(matches), "corpus", len(regs))
	return strings.Join(parts, "\n\n---\n\n"), nil
}

// score counts distinct query-token hits. Title and keyword matches weigh
// double a body match; the final score is normalized by token count so
// longer queries do not inflate relevance.
func score(tokens []string, reg *store.Regulation) float64 {
	title := strings.ToLower(reg.Title)
	keywords := strings.ToLower(reg.Keywords)
	body := strings.ToLower(reg.Body)

	var total float64
	for _, t := range tokens {
		switch {
		case strings.Contains(title, t) || strings.Contains(keywords, t):
			total += 2
		case strings.Contains(body, t):
			total += 1
		}
	}
	return total / float64(len(tokens))
}

func tokenize(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	seen := make(map[string]struct{}, len(fields))
	var tokens []string
	for _, f := range fields {
		f = strings.Trim(f, ".,;:()[]\"'")
		if len(f) < 2 {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		tokens = append(tokens, f)
	}
	return tokens
}
