// Package catalog is the subject metadata provider boundary: it fetches
// subject profiles from the upstream catalog API and normalizes them into
// the pipeline's Subject model.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/shaiss/near-catalyst/pkg/models"
)

// ErrNotFound indicates an unknown subject identifier. Fatal for the
// affected subject: never retried.
var ErrNotFound = errors.New("subject not found in catalog")

// Client fetches subject metadata over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a catalog client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// profilePayload mirrors the catalog's profile shape. Tags arrive as an
// object keyed by tag id.
type profilePayload struct {
	Name    string            `json:"name"`
	Tagline string            `json:"tagline"`
	Tags    map[string]string `json:"tags"`
	Phase   string            `json:"phase"`
}

type detailPayload struct {
	Profile       profilePayload `json:"profile"`
	Description   string         `json:"description"`
	Category      string         `json:"category"`
	Stage         string         `json:"stage"`
	TechStack     string         `json:"tech_stack"`
	Website       string         `json:"website"`
	GitHub        string         `json:"github"`
	Documentation string         `json:"documentation"`
}

// Fetch loads one subject's enriched profile. Returns ErrNotFound for an
// unknown id.
func (c *Client) Fetch(ctx context.Context, subjectID string) (*models.Subject, error) {
	u := fmt.Sprintf("%s/project?pid=%s", c.baseURL, url.QueryEscape(subjectID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build catalog request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, subjectID)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog returned status %d for %s", resp.StatusCode, subjectID)
	}

	var detail detailPayload
	if err := json.NewDecoder(resp.Body).Decode(&detail); err != nil {
		return nil, fmt.Errorf("failed to decode catalog response: %w", err)
	}

	displayName := detail.Profile.Name
	if displayName == "" {
		displayName = subjectID
	}

	tags := make([]string, 0, len(detail.Profile.Tags))
	for _, tag := range detail.Profile.Tags {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	return &models.Subject{
		ID:          subjectID,
		DisplayName: displayName,
		Profile: models.Profile{
			Tagline:     detail.Profile.Tagline,
			Tags:        tags,
			Phase:       detail.Profile.Phase,
			Description: detail.Description,
			Category:    detail.Category,
			Stage:       detail.Stage,
			TechStack:   detail.TechStack,
			Website:     detail.Website,
			GitHub:      detail.GitHub,
			Docs:        detail.Documentation,
		},
	}, nil
}

// List returns subject identifiers known to the catalog, sorted, capped
// at limit when limit > 0.
func (c *Client) List(ctx context.Context, limit int) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/projects", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build catalog request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog returned status %d", resp.StatusCode)
	}

	var projects map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&projects); err != nil {
		return nil, fmt.Errorf("failed to decode catalog project list: %w", err)
	}

	ids := make([]string, 0, len(projects))
	for id := range projects {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}
