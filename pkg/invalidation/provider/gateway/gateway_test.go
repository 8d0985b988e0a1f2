package gateway_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-invalidation/pkg/invalidation"
	"github.com/tendant/simple-invalidation/pkg/invalidation/provider/gateway"
)

var actor = invalidation.Identity{Email: "seo@company.com", Role: "admin"}

func newProvider(t *testing.T, handler http.HandlerFunc) *gateway.Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	p, err := gateway.New(gateway.Config{BaseURL: srv.URL + "/prod/", DistributionID: "E2EXAMPLE"})
	require.NoError(t, err)
	return p
}

func TestSubmitForwardsRequest(t *testing.T) {
	var gotPath string
	var gotHeaders http.Header
	var gotBody map[string][]string

	p := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotHeaders = r.Header.Clone()
		_ = json.NewDecoder(r.Body).Decode(&gotBody)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"invalidationId":"I123","status":"InProgress","distributionId":"E2EXAMPLE"}`))
	})

	inv, err := p.Submit(context.Background(), invalidation.SubmitRequest{
		CallerReference: "portal-1-abcdef01",
		Paths:           []string{"/index.html"},
		Actor:           actor,
	})
	require.NoError(t, err)

	assert.Equal(t, "/prod/invalidate", gotPath)
	assert.Equal(t, "seo@company.com", gotHeaders.Get("X-User-Email"))
	assert.Equal(t, "admin", gotHeaders.Get("X-User-Role"))
	assert.Equal(t, "portal-1-abcdef01", gotHeaders.Get("X-Caller-Reference"))
	assert.Equal(t, "application/json", gotHeaders.Get("Content-Type"))
	assert.Equal(t, []string{"/index.html"}, gotBody["paths"])

	assert.Equal(t, "I123", inv.ID)
	assert.Equal(t, "InProgress", inv.Status)
	assert.Equal(t, "gateway", inv.Provider)
	assert.Equal(t, "E2EXAMPLE", inv.DistributionID)
	assert.Equal(t, "portal-1-abcdef01", inv.CallerReference)
}

func TestSubmitNestedResult(t *testing.T) {
	p := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"result":{"id":"I999","status":"Completed"}}`))
	})

	inv, err := p.Submit(context.Background(), invalidation.SubmitRequest{CallerReference: "r", Paths: []string{"/a"}})
	require.NoError(t, err)
	assert.Equal(t, "I999", inv.ID)
	assert.Equal(t, "Completed", inv.Status)
	assert.Equal(t, "E2EXAMPLE", inv.DistributionID, "falls back to the configured distribution")
}

func TestSubmitFailures(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantMessage string
		wantCode    string
	}{
		{
			name:        "server error with message",
			status:      http.StatusInternalServerError,
			body:        `{"success":false,"message":"Invalidation failed","error":"AccessDenied"}`,
			wantMessage: "Invalidation failed",
		},
		{
			name:        "forbidden wildcard",
			status:      http.StatusForbidden,
			body:        `{"success":false,"message":"Wildcard invalidation is disabled"}`,
			wantMessage: "Wildcard invalidation is disabled",
		},
		{
			name:        "success false with 200",
			status:      http.StatusOK,
			body:        `{"success":false,"error":"throttled"}`,
			wantMessage: "throttled",
		},
		{
			name:        "non JSON error page",
			status:      http.StatusBadGateway,
			body:        `<html>Bad Gateway</html>`,
			wantMessage: "gateway returned 502",
		},
		{
			name:        "malformed success",
			status:      http.StatusOK,
			body:        `not json`,
			wantMessage: "gateway returned a malformed response",
			wantCode:    "bad_response",
		},
		{
			name:        "missing id",
			status:      http.StatusOK,
			body:        `{"success":true}`,
			wantMessage: "gateway response carried no invalidation id",
			wantCode:    "bad_response",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			inv, err := p.Submit(context.Background(), invalidation.SubmitRequest{CallerReference: "r", Paths: []string{"/a"}})
			assert.Nil(t, inv)
			require.Error(t, err)

			var pe *invalidation.ProviderError
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, tt.wantMessage, pe.Message)
			assert.Equal(t, tt.wantCode, pe.Code)
			assert.Equal(t, tt.status, pe.StatusCode)
			assert.Equal(t, invalidation.OutcomeRejected, invalidation.Classify(err))
		})
	}
}

func TestSubmitUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p, err := gateway.New(gateway.Config{BaseURL: url})
	require.NoError(t, err)

	_, err = p.Submit(context.Background(), invalidation.SubmitRequest{CallerReference: "r", Paths: []string{"/a"}})
	require.Error(t, err)
	assert.Equal(t, invalidation.OutcomeGatewayUnreachable, invalidation.Classify(err))
}

func TestSubmitTimeout(t *testing.T) {
	release := make(chan struct{})
	p := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := p.Submit(ctx, invalidation.SubmitRequest{CallerReference: "r", Paths: []string{"/a"}})
	require.Error(t, err)
	assert.Equal(t, invalidation.OutcomeGatewayTimeout, invalidation.Classify(err))
}

func TestNewRequiresBaseURL(t *testing.T) {
	_, err := gateway.New(gateway.Config{})
	assert.Error(t, err)
}
