package openrouter

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// KeyRateLimit is the request pacing OpenRouter grants the API key.
type KeyRateLimit struct {
	Requests float64 `json:"requests"`
	Interval string  `json:"interval"`
}

// KeyInfo describes the API key's spending limits, see
// https://openrouter.ai/docs/limits. Label is redacted as soon as the info is
// fetched so the key name cannot leak into logs or reports.
type KeyInfo struct {
	Label             string       `json:"label"`
	Usage             float64      `json:"usage"`
	Limit             *float64     `json:"limit"`
	LimitRemaining    *float64     `json:"limit_remaining"`
	IsFreeTier        bool         `json:"is_free_tier"`
	RateLimit         KeyRateLimit `json:"rate_limit"`
	IsProvisioningKey bool         `json:"is_provisioning_key"`
}

type keyInfoWrap struct {
	Data KeyInfo `json:"data"`
}

// KeyInfo fetches the key information once and caches it for the lifetime of
// the engine.
func (e *Engine) KeyInfo(ctx context.Context) (*KeyInfo, error) {
	e.keyMu.Lock()
	defer e.keyMu.Unlock()
	if e.keyInfo != nil {
		return e.keyInfo, nil
	}

	log.Info().Msg("retrieving OpenRouter key information")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.endpoint("auth/key"), nil)
	if err != nil {
		return nil, errors.Wrap(err, "building key info request")
	}
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "requesting key info")
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "reading key info response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Wrapf(httpError(resp.StatusCode, body), "could not retrieve key info")
	}

	var wrap keyInfoWrap
	if err := json.Unmarshal(body, &wrap); err != nil {
		return nil, errors.Wrap(err, "decoding key info response")
	}

	ki := wrap.Data
	ki.Label = "[redacted]"
	e.keyInfo = &ki
	return e.keyInfo, nil
}
