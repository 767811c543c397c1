package engine

import (
	"errors"
	"net"
	"testing"

	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestProviderErrorClassification(t *testing.T) {
	rl := &ProviderError{StatusCode: 429, Type: "rate_limit", Message: "slow down"}
	assert.True(t, rl.IsRateLimited())
	assert.False(t, rl.IsOverloaded())

	ov := &ProviderError{StatusCode: 503, Message: "upstream unavailable"}
	assert.False(t, ov.IsRateLimited())
	assert.True(t, ov.IsOverloaded())

	bad := &ProviderError{StatusCode: 400, Message: "invalid schema"}
	assert.False(t, bad.IsRateLimited())
	assert.False(t, bad.IsOverloaded())
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(&ProviderError{StatusCode: 429}))
	assert.True(t, IsTransient(&ProviderError{StatusCode: 500}))
	assert.False(t, IsTransient(&ProviderError{StatusCode: 400}))
	assert.False(t, IsTransient(&ProviderError{StatusCode: 401}))

	// wrapped provider errors keep their classification
	wrapped := pkgerrors.Wrap(&ProviderError{StatusCode: 502}, "completing request")
	assert.True(t, IsTransient(wrapped))

	var netErr error = &net.DNSError{Err: "timeout", IsTimeout: true}
	assert.True(t, IsTransient(netErr))

	assert.False(t, IsTransient(errors.New("schema validation failed")))
	assert.False(t, IsTransient(nil))
}

func TestIsRateLimited(t *testing.T) {
	assert.True(t, IsRateLimited(&ProviderError{StatusCode: 429}))
	assert.False(t, IsRateLimited(&ProviderError{StatusCode: 503}))
	assert.False(t, IsRateLimited(errors.New("nope")))
}

func TestFinishReasonKnown(t *testing.T) {
	assert.True(t, FinishStop.Known())
	assert.True(t, FinishToolCalls.Known())
	assert.False(t, FinishReason("length").Known())
	assert.False(t, FinishReason("").Known())
}

func TestRequestHasTool(t *testing.T) {
	req := NewRequest("test-model")
	req.Tools = append(req.Tools, ToolDef{Name: "pubtator_id_search"})
	assert.True(t, req.HasTool("pubtator_id_search"))
	assert.False(t, req.HasTool("other"))
}
