package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/coderecall/internal/health"
	"github.com/Aman-CERP/coderecall/internal/index"
	"github.com/Aman-CERP/coderecall/internal/search"
	"github.com/Aman-CERP/coderecall/pkg/version"
)

// Indexer runs and inspects indexing. *index.Orchestrator satisfies it.
type Indexer interface {
	Index(ctx context.Context, req index.IndexRequest) (*index.Stats, error)
	Reconcile(ctx context.Context, repoID string) (*index.ReconcileReport, error)
	Status(repoID string) index.Status
	Statuses() []index.Status
}

// Searcher answers queries. *search.Engine satisfies it.
type Searcher interface {
	Search(ctx context.Context, q search.Query) (*search.Response, error)
}

// HealthChecker runs dependency probes. *health.Monitor satisfies it.
type HealthChecker interface {
	Run(ctx context.Context) *health.Report
}

// Dependencies are the services the tools call into.
type Dependencies struct {
	Indexer  Indexer
	Searcher Searcher
	Health   HealthChecker
}

// Option configures a Server.
type Option func(*Server)

// WithRoot sets the repository used when a tool call names no path.
func WithRoot(root string) Option {
	return func(s *Server) { s.root = root }
}

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// Server is the MCP server. It bridges agents with indexing and search.
type Server struct {
	mcp      *mcp.Server
	indexer  Indexer
	searcher Searcher
	health   HealthChecker
	root     string
	logger   *slog.Logger
}

// ToolInfo contains information about a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

var toolInfos = []ToolInfo{
	{
		Name:        ToolSearchCode,
		Description: "Semantic code search over indexed repositories. Finds functions, classes and passages by meaning. Filter by repository, language or path prefix; results carry file path, line range, score and the commit they were indexed at.",
	},
	{
		Name:        ToolIndexRepository,
		Description: "Index or refresh a repository. Only files whose content changed since the last run are re-chunked and re-embedded; removed files are dropped from the index.",
	},
	{
		Name:        ToolReconcileRepository,
		Description: "Check a repository's index against its recorded state. Deletes stored chunks the repository no longer owns and reports owned chunks missing from the store.",
	},
	{
		Name:        ToolIndexStatus,
		Description: "Report whether a repository is being indexed, which phase the run is in and the outcome of the last run.",
	},
	{
		Name:        ToolHealth,
		Description: "Probe the embedding provider, the vector store and the state store. Use when searches fail or return degraded results.",
	},
}

// NewServer creates a new MCP server with all tools registered.
func NewServer(deps Dependencies, opts ...Option) (*Server, error) {
	if deps.Indexer == nil {
		return nil, errors.New("indexer is required")
	}
	if deps.Searcher == nil {
		return nil, errors.New("searcher is required")
	}
	if deps.Health == nil {
		return nil, errors.New("health checker is required")
	}

	s := &Server{
		indexer:  deps.Indexer,
		searcher: deps.Searcher,
		health:   deps.Health,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "coderecall",
			Version: version.Short(),
		},
		nil,
	)
	s.registerTools()
	s.registerResources()

	return s, nil
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// Info returns the server name and version.
func (s *Server) Info() (name, ver string) {
	return "coderecall", version.Short()
}

// ListTools returns all registered tools.
func (s *Server) ListTools() []ToolInfo {
	return append([]ToolInfo(nil), toolInfos...)
}

// CallTool invokes a tool by name with JSON-style arguments and returns its
// structured output.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	switch name {
	case ToolSearchCode:
		var in SearchCodeInput
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		return wrap(s.searchCode(ctx, in))
	case ToolIndexRepository:
		var in IndexRepositoryInput
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		return wrap(s.indexRepository(ctx, in))
	case ToolReconcileRepository:
		var in ReconcileRepositoryInput
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		return wrap(s.reconcileRepository(ctx, in))
	case ToolIndexStatus:
		var in IndexStatusInput
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		return wrap(s.indexStatus(in))
	case ToolHealth:
		return s.runHealth(ctx), nil
	default:
		return nil, NewMethodNotFoundError(name)
	}
}

func wrap[T any](out T, err error) (any, error) {
	if err != nil {
		return nil, err
	}
	return out, nil
}

func decodeArgs(args map[string]any, dst any) error {
	data, err := json.Marshal(args)
	if err != nil {
		return NewInvalidParamsError(err.Error())
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return NewInvalidParamsError(fmt.Sprintf("invalid arguments: %v", err))
	}
	return nil
}

func (s *Server) searchCode(ctx context.Context, in SearchCodeInput) (SearchCodeOutput, error) {
	requestID := generateRequestID()
	if strings.TrimSpace(in.Query) == "" {
		return SearchCodeOutput{}, NewInvalidParamsError("query cannot be empty or whitespace only")
	}
	if in.TopK < 0 {
		return SearchCodeOutput{}, NewInvalidParamsError("top_k must not be negative")
	}

	resp, err := s.searcher.Search(ctx, search.Query{
		Text:       in.Query,
		Repository: in.Repository,
		Language:   in.Language,
		PathPrefix: in.PathPrefix,
		TopK:       in.TopK,
	})
	if err != nil {
		s.logger.Error("search_code failed",
			slog.String("request_id", requestID),
			slog.String("error", err.Error()))
		return SearchCodeOutput{}, MapError(err)
	}

	s.logger.Info("search_code completed",
		slog.String("request_id", requestID),
		slog.Duration("duration", resp.Duration),
		slog.Int("result_count", len(resp.Results)))
	return toSearchOutput(resp), nil
}

func (s *Server) indexRepository(ctx context.Context, in IndexRepositoryInput) (*IndexRepositoryOutput, error) {
	root, err := s.resolveRoot(in.Path)
	if err != nil {
		return nil, err
	}
	if in.MaxFiles < 0 {
		return nil, NewInvalidParamsError("max_files must not be negative")
	}

	start := time.Now()
	requestID := generateRequestID()
	s.logger.Info("index_repository started",
		slog.String("request_id", requestID),
		slog.String("root", root),
		slog.Bool("force", in.Force))

	stats, err := s.indexer.Index(ctx, index.IndexRequest{
		Root:     root,
		RepoID:   in.RepoID,
		Force:    in.Force,
		MaxFiles: in.MaxFiles,
	})
	if err != nil {
		s.logger.Error("index_repository failed",
			slog.String("request_id", requestID),
			slog.Duration("duration", time.Since(start)),
			slog.String("phase", string(index.PhaseOf(err))),
			slog.String("error", err.Error()))
		return nil, MapError(err)
	}
	return toIndexOutput(stats), nil
}

func (s *Server) reconcileRepository(ctx context.Context, in ReconcileRepositoryInput) (ReconcileRepositoryOutput, error) {
	repoID, err := s.resolveRepoID(in.Path, in.RepoID)
	if err != nil {
		return ReconcileRepositoryOutput{}, err
	}
	report, err := s.indexer.Reconcile(ctx, repoID)
	if err != nil {
		return ReconcileRepositoryOutput{}, MapError(err)
	}
	return toReconcileOutput(report), nil
}

func (s *Server) indexStatus(in IndexStatusInput) (IndexStatusOutput, error) {
	repoID, err := s.resolveRepoID(in.Path, in.RepoID)
	if err != nil {
		return IndexStatusOutput{}, err
	}
	return toStatusOutput(s.indexer.Status(repoID)), nil
}

func (s *Server) runHealth(ctx context.Context) HealthOutput {
	return toHealthOutput(s.health.Run(ctx))
}

// resolveRoot returns the absolute repository directory for path, falling
// back to the server root.
func (s *Server) resolveRoot(path string) (string, error) {
	if path == "" {
		path = s.root
	}
	if path == "" {
		return "", NewInvalidParamsError("path is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", NewInvalidParamsError(fmt.Sprintf("invalid path: %s", path))
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return "", NewInvalidParamsError(fmt.Sprintf("not a directory: %s", path))
	}
	return abs, nil
}

func (s *Server) resolveRepoID(path, repoID string) (string, error) {
	if repoID != "" {
		return repoID, nil
	}
	root, err := s.resolveRoot(path)
	if err != nil {
		return "", err
	}
	return index.RepoIDForPath(root), nil
}

func (s *Server) registerTools() {
	desc := make(map[string]string, len(toolInfos))
	for _, t := range toolInfos {
		desc[t.Name] = t.Description
	}

	mcp.AddTool(s.mcp, &mcp.Tool{Name: ToolSearchCode, Description: desc[ToolSearchCode]},
		func(ctx context.Context, _ *mcp.CallToolRequest, in SearchCodeInput) (*mcp.CallToolResult, SearchCodeOutput, error) {
			out, err := s.searchCode(ctx, in)
			if err != nil {
				return nil, SearchCodeOutput{}, err
			}
			return &mcp.CallToolResult{
				Content: []mcp.Content{&mcp.TextContent{Text: FormatSearchResults(in.Query, out)}},
			}, out, nil
		})

	mcp.AddTool(s.mcp, &mcp.Tool{Name: ToolIndexRepository, Description: desc[ToolIndexRepository]},
		func(ctx context.Context, _ *mcp.CallToolRequest, in IndexRepositoryInput) (*mcp.CallToolResult, IndexRepositoryOutput, error) {
			out, err := s.indexRepository(ctx, in)
			if err != nil {
				return nil, IndexRepositoryOutput{}, err
			}
			return nil, *out, nil
		})

	mcp.AddTool(s.mcp, &mcp.Tool{Name: ToolReconcileRepository, Description: desc[ToolReconcileRepository]},
		func(ctx context.Context, _ *mcp.CallToolRequest, in ReconcileRepositoryInput) (*mcp.CallToolResult, ReconcileRepositoryOutput, error) {
			out, err := s.reconcileRepository(ctx, in)
			return nil, out, err
		})

	mcp.AddTool(s.mcp, &mcp.Tool{Name: ToolIndexStatus, Description: desc[ToolIndexStatus]},
		func(_ context.Context, _ *mcp.CallToolRequest, in IndexStatusInput) (*mcp.CallToolResult, IndexStatusOutput, error) {
			out, err := s.indexStatus(in)
			return nil, out, err
		})

	mcp.AddTool(s.mcp, &mcp.Tool{Name: ToolHealth, Description: desc[ToolHealth]},
		func(ctx context.Context, _ *mcp.CallToolRequest, _ HealthInput) (*mcp.CallToolResult, HealthOutput, error) {
			return nil, s.runHealth(ctx), nil
		})

	s.logger.Debug("MCP tools registered", slog.Int("count", len(toolInfos)))
}

// Serve runs the server on the given transport until ctx is canceled.
func (s *Server) Serve(ctx context.Context, transport string) error {
	s.logger.Info("Starting MCP server", slog.String("transport", transport))

	switch transport {
	case "stdio":
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("MCP server stopped with error", slog.String("error", err.Error()))
			return err
		}
		s.logger.Info("MCP server stopped gracefully")
		return nil
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio)", transport)
	}
}

// generateRequestID creates a short unique request ID for log correlation.
func generateRequestID() string {
	return uuid.NewString()[:8]
}
