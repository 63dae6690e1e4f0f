// Package greenhouse implements the platform driver for Greenhouse-hosted
// job boards, using the public board API for discovery and submission.
// Importing the package registers the driver under the name "greenhouse".
package greenhouse

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"jobpilot/internal/common/config"
	apperrors "jobpilot/internal/common/errors"
	"jobpilot/internal/common/logger"
	"jobpilot/internal/models"
	"jobpilot/internal/platform"
)

const defaultBaseURL = "https://boards-api.greenhouse.io/v1"

func init() {
	platform.Register("greenhouse", func(cfg config.PlatformConfig, log logger.Logger) (platform.Driver, error) {
		return New(cfg, log)
	})
}

// Driver talks to one Greenhouse board.
type Driver struct {
	board   string
	apiKey  string
	baseURL string
	client  *http.Client
	logger  logger.Logger
}

func New(cfg config.PlatformConfig, log logger.Logger) (*Driver, error) {
	if cfg.Board == "" {
		return nil, apperrors.NewConfigInvalidError("greenhouse platform requires a board token")
	}
	return &Driver{
		board:   cfg.Board,
		apiKey:  cfg.APIKey,
		baseURL: defaultBaseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  log.WithFields(map[string]interface{}{"component": "greenhouseDriver"}),
	}, nil
}

func (d *Driver) Name() string { return "greenhouse" }

func (d *Driver) VerificationPattern() models.MatchPattern {
	return models.MatchPattern{
		FromContains:    []string{"greenhouse.io", "no-reply@greenhouse"},
		SubjectContains: []string{"confirm your application", "verify your email"},
	}
}

type boardJob struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	AbsoluteURL string `json:"absolute_url"`
	CompanyName string `json:"company_name"`
	Location    struct {
		Name string `json:"name"`
	} `json:"location"`
	UpdatedAt string `json:"updated_at"`
}

type boardJobsResponse struct {
	Jobs []boardJob `json:"jobs"`
}

// Search lists the board's open postings. The board API has no query
// parameters, so keyword and location criteria are applied client-side.
func (d *Driver) Search(ctx context.Context, criteria models.SearchCriteria) ([]models.PostingCandidate, error) {
	endpoint := fmt.Sprintf("%s/boards/%s/jobs", d.baseURL, url.PathEscape(d.board))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, apperrors.NewNetworkTimeoutError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("board listing returned HTTP %d", resp.StatusCode)
	}

	var listing boardJobsResponse
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, fmt.Errorf("decode board listing: %w", err)
	}

	var out []models.PostingCandidate
	for _, job := range listing.Jobs {
		if !matchesCriteria(job, criteria) {
			continue
		}
		out = append(out, models.PostingCandidate{
			Key: models.ApplicationKey{
				Platform:  "greenhouse",
				PostingID: strconv.FormatInt(job.ID, 10),
			},
			Title:    job.Title,
			Company:  companyName(job, d.board),
			Location: job.Location.Name,
			URL:      job.AbsoluteURL,
			RawMetadata: map[string]string{
				"board":     d.board,
				"updatedAt": job.UpdatedAt,
			},
		})
	}

	d.logger.Info("board searched", map[string]interface{}{
		"board": d.board, "total": len(listing.Jobs), "matched": len(out),
	})
	return out, nil
}

func companyName(job boardJob, board string) string {
	if job.CompanyName != "" {
		return job.CompanyName
	}
	return board
}

func matchesCriteria(job boardJob, criteria models.SearchCriteria) bool {
	title := strings.ToLower(job.Title)
	if len(criteria.Keywords) > 0 {
		matched := false
		for _, kw := range criteria.Keywords {
			if kw != "" && strings.Contains(title, strings.ToLower(kw)) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	location := strings.ToLower(job.Location.Name)
	if criteria.RemoteOnly && !strings.Contains(location, "remote") {
		return false
	}
	if len(criteria.Locations) > 0 {
		matched := false
		for _, loc := range criteria.Locations {
			if loc != "" && strings.Contains(location, strings.ToLower(loc)) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

// Submit posts the application form to the board API under the identity's
// proxy and user agent. Classification is by status code: 2xx submissions
// wait for email confirmation, 429 signals throttling, other 4xx are
// terminal rejections, everything else is transient.
func (d *Driver) Submit(ctx context.Context, candidate models.PostingCandidate, identity *models.IdentityDescriptor, profile map[string]interface{}) (*models.SubmissionResult, error) {
	form := url.Values{}
	for field, value := range profile {
		if s, ok := value.(string); ok {
			form.Set(field, s)
		}
	}

	endpoint := fmt.Sprintf("%s/boards/%s/jobs/%s",
		d.baseURL, url.PathEscape(d.board), url.PathEscape(candidate.Key.PostingID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build submit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if d.apiKey != "" {
		req.SetBasicAuth(d.apiKey, "")
	}

	client, err := d.sessionClient(identity)
	if err != nil {
		return nil, err
	}
	if identity != nil && identity.Fingerprint.UserAgent != "" {
		req.Header.Set("User-Agent", identity.Fingerprint.UserAgent)
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return &models.SubmissionResult{
			Status: models.SubmissionTransientError,
			Reason: err.Error(),
		}, nil
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return &models.SubmissionResult{Status: models.SubmissionRequiresVerification}, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return &models.SubmissionResult{
			Status:      models.SubmissionTransientError,
			Reason:      "platform throttled the submission",
			RateLimited: true,
		}, nil
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return &models.SubmissionResult{
			Status: models.SubmissionRejected,
			Reason: "posting is no longer available",
		}, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return &models.SubmissionResult{
			Status: models.SubmissionRejected,
			Reason: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
		}, nil
	default:
		return &models.SubmissionResult{
			Status: models.SubmissionTransientError,
			Reason: fmt.Sprintf("HTTP %d", resp.StatusCode),
		}, nil
	}
}

// sessionClient returns an HTTP client routed through the identity's proxy.
func (d *Driver) sessionClient(identity *models.IdentityDescriptor) (*http.Client, error) {
	if identity == nil || identity.ProxyURL == "" {
		return d.client, nil
	}
	proxyURL, err := url.Parse(identity.ProxyURL)
	if err != nil {
		return nil, fmt.Errorf("parse proxy url for %s: %w", identity.Name, err)
	}
	return &http.Client{
		Timeout:   d.client.Timeout,
		Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
	}, nil
}
