package preflight

import (
	"context"
	"fmt"
	"time"
)

const gatewayProbeTimeout = 5 * time.Second

// CheckGateway probes the configured LLM gateway for reachability.
// Non-critical: an unreachable endpoint degrades answers but does not
// prevent serving cached results.
func (c *Checker) CheckGateway(ctx context.Context) CheckResult {
	result := CheckResult{
		Name:     "llm_gateway",
		Required: false,
	}

	if c.gateway == nil {
		result.Status = StatusWarn
		result.Message = "no gateway configured"
		return result
	}

	probeCtx, cancel := context.WithTimeout(ctx, gatewayProbeTimeout)
	defer cancel()

	if !c.gateway.Available(probeCtx) {
		result.Status = StatusWarn
		result.Message = "endpoint unreachable"
		result.Details = "check the API base URL and DOCRAG_API_KEY; answers fall back to cache until the endpoint recovers"
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("reachable (embedding model %s)", c.gateway.ModelName())
	return result
}

// CheckEmbeddingDimensions verifies the gateway's embedding dimension
// matches what persisted indices were built with. A mismatch means
// vector search would load garbage, so this one is required.
func (c *Checker) CheckEmbeddingDimensions() CheckResult {
	result := CheckResult{
		Name:     "embedding_dimensions",
		Required: true,
	}

	if c.gateway == nil {
		result.Status = StatusWarn
		result.Required = false
		result.Message = "no gateway configured"
		return result
	}

	dims := c.gateway.Dimensions()
	if dims <= 0 {
		result.Status = StatusFail
		result.Message = "gateway reports no embedding dimension"
		return result
	}

	if c.expectedDims > 0 && dims != c.expectedDims {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("dimension mismatch: indices built with %d, gateway produces %d", c.expectedDims, dims)
		result.Details = "re-run prepare with --force to rebuild indices with the current embedding model"
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("%d dimensions", dims)
	return result
}
