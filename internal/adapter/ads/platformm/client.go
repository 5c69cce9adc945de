// Package platformm implements the Platform-M ads client: ad-set lookup for
// validation plus ad-set and campaign status updates.
package platformm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/adweave/skytrigger/internal/domain"
)

// Client talks to the Platform-M marketing API with per-user access tokens.
type Client struct {
	baseURL string
	hc      *http.Client
}

// New builds a Client over the given API root.
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		hc: &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// GetAdSet fetches ad-set details, used to validate a target before a status
// update. An unknown id returns ErrNotFound with a "not found" message.
func (c *Client) GetAdSet(ctx domain.Context, account domain.PlatformAccount, adSetID string) (domain.AdSet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/"+adSetID+"?fields=id,name,status,campaign_id", nil)
	if err != nil {
		return domain.AdSet{}, fmt.Errorf("op=platformm.get_ad_set: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+account.AccessToken)

	resp, err := c.hc.Do(req)
	if err != nil {
		return domain.AdSet{}, fmt.Errorf("op=platformm.get_ad_set: network: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.AdSet{}, fmt.Errorf("op=platformm.get_ad_set: read body: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return domain.AdSet{}, fmt.Errorf("op=platformm.get_ad_set: ad set %s not found: %w", adSetID, domain.ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domain.AdSet{}, apiError(resp, "ad set "+adSetID)
	}

	var adSet domain.AdSet
	if err := json.Unmarshal(body, &adSet); err != nil {
		return domain.AdSet{}, fmt.Errorf("op=platformm.get_ad_set: decode: %w", err)
	}
	return adSet, nil
}

// UpdateAdSetStatus sets an ad set to PAUSED or ACTIVE.
func (c *Client) UpdateAdSetStatus(ctx domain.Context, account domain.PlatformAccount, adSetID, status string) error {
	return c.postStatus(ctx, account, adSetID, status, "update_ad_set_status")
}

// UpdateCampaignStatus sets a whole campaign to PAUSED or ACTIVE.
func (c *Client) UpdateCampaignStatus(ctx domain.Context, account domain.PlatformAccount, campaignID, status string) error {
	return c.postStatus(ctx, account, campaignID, status, "update_campaign_status")
}

func (c *Client) postStatus(ctx domain.Context, account domain.PlatformAccount, objectID, status, op string) error {
	payload, _ := json.Marshal(map[string]string{"status": status})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+objectID, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("op=platformm.%s: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+account.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("op=platformm.%s: network: %w", op, err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("op=platformm.%s: %s not found: %w", op, objectID, domain.ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apiError(resp, objectID)
	}
	return nil
}

func apiError(resp *http.Response, subject string) error {
	return &domain.APIError{
		StatusCode: resp.StatusCode,
		Message:    "platform_m " + subject + " status " + strconv.Itoa(resp.StatusCode),
		RetryAfter: retryAfter(resp.Header.Get("Retry-After")),
	}
}

func retryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
