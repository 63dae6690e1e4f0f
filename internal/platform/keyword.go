package platform

import (
	"context"
	"fmt"
	"strings"

	"jobpilot/internal/common/config"
	"jobpilot/internal/models"
)

// KeywordFilter is the static rule set applied to every discovered posting:
// company blocklist first, then excluded keywords, then the include list
// when one is configured.
type KeywordFilter struct {
	include          []string
	exclude          []string
	excludeCompanies []string
}

func NewKeywordFilter(cfg config.FilterConfig) *KeywordFilter {
	return &KeywordFilter{
		include:          lowerAll(cfg.IncludeKeywords),
		exclude:          lowerAll(cfg.ExcludeKeywords),
		excludeCompanies: lowerAll(cfg.ExcludeCompanies),
	}
}

func (f *KeywordFilter) Evaluate(ctx context.Context, candidate models.PostingCandidate) (Decision, error) {
	company := strings.ToLower(candidate.Company)
	for _, blocked := range f.excludeCompanies {
		if blocked != "" && strings.Contains(company, blocked) {
			return Decision{Reason: fmt.Sprintf("excluded company %q", candidate.Company)}, nil
		}
	}

	title := strings.ToLower(candidate.Title)
	for _, kw := range f.exclude {
		if kw != "" && strings.Contains(title, kw) {
			return Decision{Reason: fmt.Sprintf("excluded keyword %q", kw)}, nil
		}
	}

	if len(f.include) > 0 {
		for _, kw := range f.include {
			if kw != "" && strings.Contains(title, kw) {
				return Decision{Allow: true}, nil
			}
		}
		return Decision{Reason: "no required keyword in title"}, nil
	}

	return Decision{Allow: true}, nil
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, strings.ToLower(strings.TrimSpace(s)))
	}
	return out
}
