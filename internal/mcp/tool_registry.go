package mcp

import (
	"regexp"
	"sort"
	"strings"
	"sync"
)

// ToolCategory represents the functional category of a tool.
type ToolCategory string

const (
	// CategoryVetting is for skill scanning, hashing and vetting.
	CategoryVetting ToolCategory = "vetting"
	// CategoryReplies is for outgoing reply checks.
	CategoryReplies ToolCategory = "replies"
	// CategorySearch is for tool discovery.
	CategorySearch ToolCategory = "search"
)

// ToolMetadata contains metadata about a registered MCP tool.
type ToolMetadata struct {
	// Name is the unique tool name (e.g., "scan_content").
	Name string `json:"name"`

	// Description is a human-readable description of what the tool does.
	Description string `json:"description"`

	// Category is the functional category of the tool.
	Category ToolCategory `json:"category"`

	// Keywords are additional searchable terms for this tool.
	Keywords []string `json:"keywords,omitempty"`
}

// ToolRegistry manages metadata about all registered MCP tools.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]*ToolMetadata
}

// NewToolRegistry creates a new tool registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools: make(map[string]*ToolMetadata),
	}
}

// Register adds a tool to the registry, replacing any tool of the same name.
func (r *ToolRegistry) Register(tool *ToolMetadata) {
	if tool == nil || tool.Name == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name] = tool
}

// Get returns the metadata for a specific tool.
func (r *ToolRegistry) Get(name string) (*ToolMetadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// List returns all registered tools ordered by name.
func (r *ToolRegistry) List() []*ToolMetadata {
	return r.filter(func(*ToolMetadata) bool { return true })
}

// ListByCategory returns the tools of one category ordered by name.
func (r *ToolRegistry) ListByCategory(category ToolCategory) []*ToolMetadata {
	return r.filter(func(t *ToolMetadata) bool { return t.Category == category })
}

func (r *ToolRegistry) filter(keep func(*ToolMetadata) bool) []*ToolMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*ToolMetadata, 0, len(r.tools))
	for _, tool := range r.tools {
		if keep(tool) {
			result = append(result, tool)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// SearchResult contains a tool match from a search query.
type SearchResult struct {
	// Tool is the matched tool metadata.
	Tool *ToolMetadata `json:"tool"`

	// Score indicates match quality (higher is better).
	// 3 = exact name match
	// 2 = name contains or matches the query
	// 1 = description or keyword match
	Score int `json:"score"`

	// MatchReason describes why this tool matched.
	MatchReason string `json:"match_reason"`
}

// Search finds tools matching the query, case-insensitively, against names,
// descriptions and keywords. A query that compiles as a regular expression
// is also matched as one. Results are ordered by score, then name.
func (r *ToolRegistry) Search(query string) []*SearchResult {
	if query == "" {
		return nil
	}
	queryLower := strings.ToLower(query)

	var regex *regexp.Regexp
	if re, err := regexp.Compile("(?i)" + query); err == nil {
		regex = re
	}
	matches := func(s string) bool {
		return strings.Contains(strings.ToLower(s), queryLower)
	}
	matchesPattern := func(s string) bool {
		return regex != nil && regex.MatchString(s)
	}

	var results []*SearchResult
	for _, tool := range r.List() {
		score, reason := 0, ""
		switch {
		case strings.ToLower(tool.Name) == queryLower:
			score, reason = 3, "exact name match"
		case matches(tool.Name):
			score, reason = 2, "name contains query"
		case matchesPattern(tool.Name):
			score, reason = 2, "name matches pattern"
		case matches(tool.Description):
			score, reason = 1, "description contains query"
		case matchesPattern(tool.Description):
			score, reason = 1, "description matches pattern"
		default:
			for _, kw := range tool.Keywords {
				if matches(kw) || matchesPattern(kw) {
					score, reason = 1, "keyword match"
					break
				}
			}
		}
		if score > 0 {
			results = append(results, &SearchResult{Tool: tool, Score: score, MatchReason: reason})
		}
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results
}

// SearchByCategory searches within a specific category.
func (r *ToolRegistry) SearchByCategory(query string, category ToolCategory) []*SearchResult {
	filtered := make([]*SearchResult, 0)
	for _, result := range r.Search(query) {
		if result.Tool.Category == category {
			filtered = append(filtered, result)
		}
	}
	return filtered
}

// Count returns the total number of registered tools.
func (r *ToolRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
