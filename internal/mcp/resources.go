package mcp

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// StatusResourceURI lists the run state of every repository this process
// has indexed.
const StatusResourceURI = "coderecall://status"

func (s *Server) registerResources() {
	s.mcp.AddResource(
		&mcp.Resource{
			Name:        "status",
			URI:         StatusResourceURI,
			Description: "Run state and last outcome of every repository indexed by this server",
			MIMEType:    "application/json",
		},
		func(ctx context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
			return s.readStatusResource(ctx)
		},
	)
}

func (s *Server) readStatusResource(_ context.Context) (*mcp.ReadResourceResult, error) {
	statuses := s.indexer.Statuses()
	out := make([]IndexStatusOutput, 0, len(statuses))
	for _, st := range statuses {
		out = append(out, toStatusOutput(st))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RepoID < out[j].RepoID })

	content, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, MapError(err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{
			{
				URI:      StatusResourceURI,
				MIMEType: "application/json",
				Text:     string(content),
			},
		},
	}, nil
}
