package platform

import (
	"context"
	"testing"

	"jobpilot/internal/common/config"
	"jobpilot/internal/common/logger"
	"jobpilot/internal/models"

	"github.com/stretchr/testify/assert"
)

func candidate(title, company string) models.PostingCandidate {
	return models.PostingCandidate{
		Key:     models.ApplicationKey{Platform: "greenhouse", PostingID: "p1"},
		Title:   title,
		Company: company,
	}
}

func TestKeywordFilter_Evaluate(t *testing.T) {
	filter := NewKeywordFilter(config.FilterConfig{
		IncludeKeywords:  []string{"engineer", "developer"},
		ExcludeKeywords:  []string{"unpaid", "intern"},
		ExcludeCompanies: []string{"Acme Corp"},
	})
	ctx := context.Background()

	tests := []struct {
		name      string
		candidate models.PostingCandidate
		allow     bool
	}{
		{"matching title passes", candidate("Backend Engineer", "Initech"), true},
		{"include match is case-insensitive", candidate("Senior DEVELOPER", "Initech"), true},
		{"excluded keyword wins over include", candidate("Engineer Intern", "Initech"), false},
		{"excluded company", candidate("Backend Engineer", "ACME CORP"), false},
		{"no include keyword", candidate("Product Manager", "Initech"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision, err := filter.Evaluate(ctx, tt.candidate)
			assert.NoError(t, err)
			assert.Equal(t, tt.allow, decision.Allow)
			if !tt.allow {
				assert.NotEmpty(t, decision.Reason)
			}
		})
	}
}

func TestKeywordFilter_EmptyIncludeAllowsAll(t *testing.T) {
	filter := NewKeywordFilter(config.FilterConfig{
		ExcludeKeywords: []string{"clearance"},
	})

	decision, err := filter.Evaluate(context.Background(), candidate("Staff Accountant", "Initech"))
	assert.NoError(t, err)
	assert.True(t, decision.Allow)
}

func TestRegistry_OpenUnknownPlatform(t *testing.T) {
	_, err := Open("nonexistent", config.PlatformConfig{Enabled: true}, logger.NewTestLogger(t))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid configuration")
}

func TestRegistry_RegisterAndOpen(t *testing.T) {
	Register("stub", func(cfg config.PlatformConfig, log logger.Logger) (Driver, error) {
		return nil, nil
	})

	assert.Contains(t, Registered(), "stub")

	_, err := Open("stub", config.PlatformConfig{}, logger.NewTestLogger(t))
	assert.NoError(t, err)
}
