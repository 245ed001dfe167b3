package mcp

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Resource URIs.
const (
	namespacesResourceURI = "docrag://namespaces"
	metricsResourceURI    = "docrag://metrics"
	configResourceURI     = "docrag://config"
)

// registerResources registers the read-only inspection resources.
func (s *Server) registerResources() {
	s.mcp.AddResource(
		&mcp.Resource{
			Name:        "namespaces",
			URI:         namespacesResourceURI,
			Description: "All tenant/scenario namespaces known on disk, with index sizes and last-use times",
			MIMEType:    "application/json",
		},
		s.handleNamespacesResource,
	)

	s.mcp.AddResource(
		&mcp.Resource{
			Name:        "metrics",
			URI:         metricsResourceURI,
			Description: "Question telemetry: modes, cache hit rates, stage latencies, zero-result questions",
			MIMEType:    "application/json",
		},
		s.handleMetricsResource,
	)

	s.mcp.AddResource(
		&mcp.Resource{
			Name:        "config",
			URI:         configResourceURI,
			Description: "Effective configuration (secrets redacted)",
			MIMEType:    "application/json",
		},
		s.handleConfigResource,
	)
}

// handleNamespacesResource lists every namespace the catalog can see.
func (s *Server) handleNamespacesResource(_ context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	infos, err := s.orch.Catalog().List()
	if err != nil {
		return nil, MapError(err)
	}
	return jsonResource(namespacesResourceURI, infos)
}

// handleMetricsResource serves the lifetime telemetry snapshot.
func (s *Server) handleMetricsResource(_ context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	snapshot := s.orch.Metrics()
	if snapshot == nil {
		return nil, NewInvalidParamsError("telemetry is not enabled")
	}
	return jsonResource(metricsResourceURI, snapshot)
}

// handleConfigResource serves the effective configuration. The API key
// is excluded by the config type's own JSON tags.
func (s *Server) handleConfigResource(_ context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	return jsonResource(configResourceURI, s.config)
}

// jsonResource marshals v as an indented JSON resource body.
func jsonResource(uri string, v any) (*mcp.ReadResourceResult, error) {
	content, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, MapError(err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{
			{
				URI:      uri,
				MIMEType: "application/json",
				Text:     string(content),
			},
		},
	}, nil
}
