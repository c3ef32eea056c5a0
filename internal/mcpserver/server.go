// Package mcpserver exposes document question answering and evidence search
// as Model Context Protocol tools.
package mcpserver

import (
	"context"
	"errors"
	"fmt"

	"docqa/internal/models"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const Version = "0.1.0"

var (
	ErrMissingAsker    = errors.New("mcp: query orchestrator is required")
	ErrMissingSearcher = errors.New("mcp: searcher and embedder are required")
)

type Asker interface {
	Ask(ctx context.Context, userID string, req models.QueryRequest) (models.QueryResponse, error)
}

type Searcher interface {
	SearchByVector(ctx context.Context, vec []float32, documentIDs []string, limit int, threshold float64) ([]models.SearchResult, error)
}

type Embedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

// Ports aggregates what the tools call into.
type Ports struct {
	Query    Asker
	Search   Searcher
	Embed    Embedder
	Settings Settings
}

type Settings struct {
	// DefaultUserID is used when a tool call carries no user_id.
	DefaultUserID string
	Threshold     float64
}

func (p *Ports) Validate() error {
	if p.Query == nil {
		return ErrMissingAsker
	}
	if p.Search == nil || p.Embed == nil {
		return ErrMissingSearcher
	}
	return nil
}

type Server struct {
	ports  *Ports
	server *mcp.Server
}

func NewServer(ports *Ports) (*Server, error) {
	if err := ports.Validate(); err != nil {
		return nil, fmt.Errorf("validating ports: %w", err)
	}
	s := &Server{
		ports:  ports,
		server: mcp.NewServer(&mcp.Implementation{Name: "docqa", Version: Version}, nil),
	}
	s.registerTools()
	return s, nil
}

// Run serves over stdio until ctx is cancelled or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}
