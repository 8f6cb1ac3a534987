// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes import tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/ankiport/internal/apperr"
	"github.com/starford/ankiport/internal/importservice"
	"github.com/starford/ankiport/internal/jobs"
)

const guideURI = "ankiport://import-guide"

// Server wraps the MCP server with import tools.
type Server struct {
	mcp *server.MCPServer
	svc *importservice.Service
}

// New creates a new MCP server with all import tools registered.
func New(svc *importservice.Service) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"ankiport",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("import_package",
		mcp.WithDescription("Import an .apkg/.colpkg package or an .anki2 collection file from the server's "+
			"file system into the collection. Read the guide first via get_import_guide or the "+
			guideURI+" resource."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Path of the file on the server")),
		mcp.WithBoolean("wait", mcp.Description("Wait for the import to finish (default true)")),
	), s.importPackage)

	s.mcp.AddTool(mcp.NewTool("upload_package",
		mcp.WithDescription("Download a package from an http(s) URL or decode a base64 data URI, then queue "+
			"it for import. Returns the queued job."),
		mcp.WithString("url", mcp.Required(), mcp.Description("http(s) URL or data:application/zip;base64,... URI")),
		mcp.WithString("filename", mcp.Description("File name to record; must end in .apkg, .colpkg or .anki2")),
	), s.uploadPackage)

	s.mcp.AddTool(mcp.NewTool("import_status",
		mcp.WithDescription("Show one import job with its counters and log, or list all jobs when id is empty."),
		mcp.WithString("id", mcp.Description("Job id returned by import_package or upload_package")),
	), s.importStatus)

	s.mcp.AddTool(mcp.NewTool("collection_stats",
		mcp.WithDescription("Counts of notes, cards, review entries, note types, decks and tags in the collection."),
	), s.collectionStats)

	s.mcp.AddTool(mcp.NewTool("get_import_guide",
		mcp.WithDescription("Returns how imports merge into the collection and how to read their results."),
	), s.getImportGuide)

	s.mcp.AddResource(
		mcp.NewResource(guideURI, "Import Guide",
			mcp.WithResourceDescription("How packages are merged and how to interpret import results."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readGuideResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) importPackage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	job, err := s.svc.Enqueue(path)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("not found: %s", path)), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !req.GetBool("wait", true) {
		return jsonResult(job)
	}
	job, err = s.svc.Wait(ctx, job.ID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if job.State == jobs.StateFailed {
		res, _ := jsonResult(job)
		res.IsError = true
		return res, nil
	}
	return jsonResult(job)
}

func (s *Server) importStatus(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("id", "")
	if id == "" {
		return jsonResult(s.svc.Jobs())
	}
	job, err := s.svc.Job(id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("unknown job: %s", id)), nil
	}
	return jsonResult(job)
}

func (s *Server) collectionStats(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	st, err := s.svc.Stats(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(st)
}

func (s *Server) getImportGuide(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(ImportGuide), nil
}

func (s *Server) readGuideResource(context.Context, mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      guideURI,
			MIMEType: "text/markdown",
			Text:     ImportGuide,
		},
	}, nil
}
