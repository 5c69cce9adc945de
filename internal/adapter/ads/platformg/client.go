// Package platformg implements the Platform-G ads client. Platform-G only
// exposes campaign-level status updates; the resume status is ENABLED.
package platformg

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

// Client talks to the Platform-G ads API with per-user access tokens.
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

// UpdateCampaignStatus sets a campaign to PAUSED or ENABLED.
func (c *Client) UpdateCampaignStatus(ctx domain.Context, account domain.PlatformAccount, campaignID, status string) error {
	payload, _ := json.Marshal(map[string]string{"status": status})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/campaigns/"+campaignID+"/status", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("op=platformg.update_campaign_status: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+account.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("op=platformg.update_campaign_status: network: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("op=platformg.update_campaign_status: campaign %s not found: %w", campaignID, domain.ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		retryAfter, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
		return &domain.APIError{
			StatusCode: resp.StatusCode,
			Message:    "platform_g campaign " + campaignID + " status " + strconv.Itoa(resp.StatusCode),
			RetryAfter: time.Duration(retryAfter) * time.Second,
		}
	}
	return nil
}
