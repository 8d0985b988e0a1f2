package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tendant/simple-invalidation/pkg/invalidation"
)

// maxResponseBytes caps how much of a gateway response body is read.
const maxResponseBytes = 1 << 20

// Config options for the API Gateway provider
type Config struct {
	BaseURL        string       // Gateway stage URL, without the trailing /invalidate
	DistributionID string       // Optional, only echoed into results
	HTTPClient     *http.Client // Optional, defaults to a client without timeout (the pipeline bounds each call)
	Name           string       // Optional provider name (default "gateway")
}

// Provider forwards invalidations to an HTTP endpoint (typically an AWS API
// Gateway in front of a Lambda that calls CloudFront).
type Provider struct {
	endpoint       string
	distributionID string
	client         *http.Client
	name           string
}

type submitBody struct {
	Paths []string `json:"paths"`
}

type submitResponse struct {
	Success        *bool  `json:"success"`
	InvalidationID string `json:"invalidationId"`
	Status         string `json:"status"`
	DistributionID string `json:"distributionId"`
	Message        string `json:"message"`
	Error          string `json:"error"`
	Result         *struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"result"`
}

// New creates a new gateway provider
func New(config Config) (*Provider, error) {
	if config.BaseURL == "" {
		return nil, errors.New("gateway base URL is required")
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{}
	}
	if config.Name == "" {
		config.Name = "gateway"
	}

	return &Provider{
		endpoint:       strings.TrimRight(config.BaseURL, "/") + "/invalidate",
		distributionID: config.DistributionID,
		client:         config.HTTPClient,
		name:           config.Name,
	}, nil
}

// Name returns the provider name
func (p *Provider) Name() string {
	return p.name
}

// Submit posts the paths to the gateway and interprets its JSON answer
func (p *Provider) Submit(ctx context.Context, req invalidation.SubmitRequest) (*invalidation.Invalidation, error) {
	body, err := json.Marshal(submitBody{Paths: req.Paths})
	if err != nil {
		return nil, fmt.Errorf("encode gateway request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build gateway request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-User-Email", req.Actor.Email)
	httpReq.Header.Set("X-User-Role", req.Actor.Role)
	httpReq.Header.Set("X-Caller-Reference", req.CallerReference)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read gateway response: %w", err)
	}

	var parsed submitResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, invalidation.NewProviderError(p.name, "", fmt.Sprintf("gateway returned %d", resp.StatusCode), resp.StatusCode, err)
		}
		return nil, invalidation.NewProviderError(p.name, "bad_response", "gateway returned a malformed response", resp.StatusCode, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 || (parsed.Success != nil && !*parsed.Success) {
		msg := parsed.Message
		if msg == "" {
			msg = parsed.Error
		}
		if msg == "" {
			msg = fmt.Sprintf("gateway returned %d", resp.StatusCode)
		}
		var cause error
		if parsed.Error != "" && parsed.Error != msg {
			cause = errors.New(parsed.Error)
		}
		return nil, invalidation.NewProviderError(p.name, "", msg, resp.StatusCode, cause)
	}

	inv := &invalidation.Invalidation{
		ID:              parsed.InvalidationID,
		Status:          parsed.Status,
		Provider:        p.name,
		DistributionID:  parsed.DistributionID,
		CallerReference: req.CallerReference,
	}
	if parsed.Result != nil {
		if inv.ID == "" {
			inv.ID = parsed.Result.ID
		}
		if inv.Status == "" {
			inv.Status = parsed.Result.Status
		}
	}
	if inv.DistributionID == "" {
		inv.DistributionID = p.distributionID
	}
	if inv.ID == "" {
		return nil, invalidation.NewProviderError(p.name, "bad_response", "gateway response carried no invalidation id", resp.StatusCode, nil)
	}

	return inv, nil
}
