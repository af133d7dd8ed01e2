package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/crewgate/internal/replyscan"
	"github.com/fyrsmithlabs/crewgate/internal/vetting"
)

// Reply scan modes.
const (
	ModeIntegrity = "integrity"
	ModeCharter   = "charter"
	ModeBoth      = "both"
)

// addTool records the tool in the registry and registers an instrumented
// handler with the MCP server.
func addTool[In, Out any](s *Server, meta ToolMetadata, h mcp.ToolHandlerFor[In, Out]) {
	s.toolRegistry.Register(&meta)
	name := meta.Name
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        name,
		Description: meta.Description,
	}, func(ctx context.Context, req *mcp.CallToolRequest, args In) (*mcp.CallToolResult, Out, error) {
		start := time.Now()
		s.metrics.IncrementActive(ctx, name)
		res, out, err := h(ctx, req, args)
		s.metrics.DecrementActive(ctx, name)
		s.metrics.RecordInvocation(ctx, name, time.Since(start), err)
		if err != nil {
			s.logger.Warn("tool call failed", zap.String("tool", name), zap.Error(err))
		}
		return res, out, err
	})
}

func textResult(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf(format, args...)}},
	}
}

// registerTools registers all MCP tools with the server.
func (s *Server) registerTools() {
	s.registerVettingTools()
	s.registerReplyTools()
	s.registerSearchTools()
}

// ===== VETTING TOOLS =====

type contentInput struct {
	Content string `json:"content" jsonschema:"Skill configuration (JSON or JSONC) or free text to analyze"`
}

type hashOutput struct {
	ContentHash string `json:"content_hash" jsonschema:"SHA-256 of the canonical JSON form, or of the raw text when it is not JSON"`
}

type vetSkillInput struct {
	Name    string `json:"skill_name" jsonschema:"Skill name as registered"`
	Content string `json:"content" jsonschema:"Skill configuration to vet"`
}

func (s *Server) registerVettingTools() {
	addTool(s, ToolMetadata{
		Name:        "scan_content",
		Description: "Scan a skill configuration or text for prompt injection, exfiltration, code execution and credential patterns. Returns flags, a 0-10 risk score and a recommendation.",
		Category:    CategoryVetting,
		Keywords:    []string{"injection", "risk", "skill", "security"},
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args contentInput) (*mcp.CallToolResult, vetting.ScanResult, error) {
		if args.Content == "" {
			return nil, vetting.ScanResult{}, fmt.Errorf("content is required")
		}
		res, err := s.vetter.Scan(ctx, args.Content)
		if err != nil {
			return nil, vetting.ScanResult{}, err
		}
		return textResult("Risk %d/10: %s", res.RiskScore, res.Recommendation), res, nil
	})

	addTool(s, ToolMetadata{
		Name:        "compute_hash",
		Description: "Compute the content hash used by the skill registry. Formatting, key order and comments do not change the hash.",
		Category:    CategoryVetting,
		Keywords:    []string{"hash", "sha256", "registry"},
	}, func(_ context.Context, _ *mcp.CallToolRequest, args contentInput) (*mcp.CallToolResult, hashOutput, error) {
		out := hashOutput{ContentHash: vetting.ComputeHash(args.Content)}
		return textResult("%s", out.ContentHash), out, nil
	})

	addTool(s, ToolMetadata{
		Name:        "vet_skill",
		Description: "Vet a skill against the registry and the content scanner without installing it. Reports whether it can be added and whether human approval is required.",
		Category:    CategoryVetting,
		Keywords:    []string{"registry", "approval", "install", "skill"},
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args vetSkillInput) (*mcp.CallToolResult, vetting.VetResult, error) {
		res, err := s.vetter.Vet(ctx, args.Name, args.Content)
		if err != nil {
			return nil, vetting.VetResult{}, err
		}
		return textResult("%s (%s): %s", res.Name, res.RegistryStatus, res.Reason), res, nil
	})
}

// ===== REPLY TOOLS =====

type scanReplyInput struct {
	Text string `json:"text" jsonschema:"Outgoing reply to check"`
	Mode string `json:"mode,omitempty" jsonschema:"integrity, charter or both (default both)"`
}

type scanReplyOutput struct {
	Clean     bool               `json:"clean"`
	Integrity *replyscan.Verdict `json:"integrity,omitempty"`
	Charter   *replyscan.Verdict `json:"charter,omitempty"`
}

func (s *Server) registerReplyTools() {
	addTool(s, ToolMetadata{
		Name:        "scan_reply",
		Description: "Check an outgoing reply for manipulation (gaslighting, dismissiveness, blame shifting) and communication charter violations before it is sent to the human.",
		Category:    CategoryReplies,
		Keywords:    []string{"integrity", "charter", "gaslighting", "tone"},
	}, func(_ context.Context, _ *mcp.CallToolRequest, args scanReplyInput) (*mcp.CallToolResult, scanReplyOutput, error) {
		mode := strings.ToLower(strings.TrimSpace(args.Mode))
		if mode == "" {
			mode = ModeBoth
		}
		out := scanReplyOutput{Clean: true}
		switch mode {
		case ModeIntegrity, ModeCharter, ModeBoth:
		default:
			return nil, scanReplyOutput{}, fmt.Errorf("invalid mode %q: want integrity, charter or both", args.Mode)
		}
		var types []string
		if mode != ModeCharter {
			v := s.replies.Integrity(args.Text)
			out.Integrity = &v
			out.Clean = out.Clean && v.Clean
			types = append(types, v.Types()...)
		}
		if mode != ModeIntegrity {
			v := s.replies.Charter(args.Text)
			out.Charter = &v
			out.Clean = out.Clean && v.Clean
			types = append(types, v.Types()...)
		}

		if out.Clean {
			return textResult("Reply is clean"), out, nil
		}
		return textResult("Reply has violations: %s", strings.Join(types, ", ")), out, nil
	})
}

// ===== DISCOVERY TOOLS =====

type toolSearchInput struct {
	Query    string `json:"query" jsonschema:"Name, description or keyword to search for; regular expressions are accepted"`
	Category string `json:"category,omitempty" jsonschema:"Restrict the search to one category"`
	Limit    int    `json:"limit,omitempty" jsonschema:"Maximum results (default: 5)"`
}

type toolSearchOutput struct {
	Query      string          `json:"query"`
	Results    []*SearchResult `json:"results"`
	Count      int             `json:"count"`
	TotalTools int             `json:"total_tools"`
}

type toolListInput struct {
	Category string `json:"category,omitempty" jsonschema:"Filter to a specific category"`
}

type toolListOutput struct {
	Tools []*ToolMetadata `json:"tools"`
	Count int             `json:"count"`
}

func (s *Server) registerSearchTools() {
	addTool(s, ToolMetadata{
		Name:        "tool_search",
		Description: "Search the available tools by name, description or keyword.",
		Category:    CategorySearch,
	}, func(_ context.Context, _ *mcp.CallToolRequest, args toolSearchInput) (*mcp.CallToolResult, toolSearchOutput, error) {
		if args.Query == "" {
			return nil, toolSearchOutput{}, fmt.Errorf("query is required")
		}
		limit := args.Limit
		if limit <= 0 {
			limit = 5
		}

		var results []*SearchResult
		if args.Category != "" {
			results = s.toolRegistry.SearchByCategory(args.Query, ToolCategory(args.Category))
		} else {
			results = s.toolRegistry.Search(args.Query)
		}
		if len(results) > limit {
			results = results[:limit]
		}
		if results == nil {
			results = []*SearchResult{}
		}

		out := toolSearchOutput{
			Query:      args.Query,
			Results:    results,
			Count:      len(results),
			TotalTools: s.toolRegistry.Count(),
		}
		if out.Count == 0 {
			return textResult("No tools found matching: %s", args.Query), out, nil
		}
		names := make([]string, len(results))
		for i, r := range results {
			names[i] = r.Tool.Name
		}
		return textResult("Found %d tool(s) for query '%s': %s", out.Count, args.Query, strings.Join(names, ", ")), out, nil
	})

	addTool(s, ToolMetadata{
		Name:        "tool_list",
		Description: "List the available tools with their categories.",
		Category:    CategorySearch,
	}, func(_ context.Context, _ *mcp.CallToolRequest, args toolListInput) (*mcp.CallToolResult, toolListOutput, error) {
		var tools []*ToolMetadata
		if args.Category != "" {
			tools = s.toolRegistry.ListByCategory(ToolCategory(args.Category))
		} else {
			tools = s.toolRegistry.List()
		}
		out := toolListOutput{Tools: tools, Count: len(tools)}
		return textResult("Found %d tools", out.Count), out, nil
	})
}
