package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/dejo1307/envmap/internal/cluster"
	"github.com/dejo1307/envmap/internal/config"
	"github.com/dejo1307/envmap/internal/engine"
	"github.com/dejo1307/envmap/internal/graph"
	"github.com/dejo1307/envmap/internal/renderers/mermaid"
	"github.com/dejo1307/envmap/internal/renderers/report"
)

// Result caps for query tools.
const (
	maxQueryResults   = 100
	defaultFailingEnv = 5
)

// Server wraps the MCP server and connects it to the map engine.
type Server struct {
	mcp *mcp.Server
	eng *engine.Engine
	cfg *config.Config
}

// New creates a new MCP server wired to the given engine.
func New(eng *engine.Engine, cfg *config.Config) (*Server, error) {
	s := &Server{
		eng: eng,
		cfg: cfg,
	}

	mcpServer := mcp.NewServer(&mcp.Implementation{
		Name:    "envmap",
		Version: "0.1.0",
	}, nil)

	s.mcp = mcpServer
	s.registerResources()
	s.registerTools()

	return s, nil
}

// Run starts the MCP server on the stdio transport.
func (s *Server) Run(ctx context.Context) error {
	log.Println("[server] starting MCP server on stdio transport")
	return s.mcp.Run(ctx, &mcp.StdioTransport{})
}

// artifactResource describes one resource backed by an engine artifact.
type artifactResource struct {
	uri, name, description, mime, artifact string
}

var resources = []artifactResource{
	{"envmap://map/graph", "Environment Map", "Node/edge graph of base interpreters, environments and tasks", "application/json", engine.GraphFile},
	{"envmap://map/insights", "Fleet Insights", "Rule-based insights about the environment fleet", "application/json", engine.InsightsFile},
	{"envmap://map/diagram", "Environment Diagram", "Mermaid flowchart of the environment map", "text/vnd.mermaid", mermaid.ArtifactName},
	{"envmap://map/report", "Environment Report", "Compact markdown digest of fleet health", "text/markdown", report.ArtifactName},
	{"envmap://map/meta", "Map Metadata", "Metadata about the last map generation", "application/json", engine.MetaFile},
}

// registerResources adds MCP resources for map artifacts.
func (s *Server) registerResources() {
	for _, r := range resources {
		s.mcp.AddResource(&mcp.Resource{
			URI:         r.uri,
			Name:        r.name,
			Description: r.description,
			MIMEType:    r.mime,
		}, func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
			content, err := s.eng.GetArtifact(r.artifact)
			if err != nil {
				return nil, fmt.Errorf("no map available: %w (run generate_map first)", err)
			}
			return &mcp.ReadResourceResult{
				Contents: []*mcp.ResourceContents{
					{URI: req.Params.URI, Text: string(content), MIMEType: r.mime},
				},
			}, nil
		})
	}
}

// generateMapArgs are the arguments for the generate_map tool.
type generateMapArgs struct {
	Write bool `json:"write,omitempty" jsonschema:"Also write artifacts to the output directory"`
}

// queryNodesArgs are the arguments for the query_nodes tool.
type queryNodesArgs struct {
	Type   string `json:"type,omitempty" jsonschema:"Filter by node type: base, venv or task"`
	Status string `json:"status,omitempty" jsonschema:"Filter by health status: good, warn, bad or unknown"`
	Label  string `json:"label,omitempty" jsonschema:"Filter by label or path using case-insensitive substring match"`
	Limit  int    `json:"limit,omitempty" jsonschema:"Maximum number of nodes to return (default 100)"`
}

// exploreNodeArgs are the arguments for the explore_node tool.
type exploreNodeArgs struct {
	Node      string   `json:"node" jsonschema:"required,Node id, exact path, or label substring"`
	Direction string   `json:"direction,omitempty" jsonschema:"forward, reverse or both (default both)"`
	EdgeTypes []string `json:"edge_types,omitempty" jsonschema:"Only follow these edge types, e.g. USES_BASE, ROUTES_TASK_TO, FAILED_RUN"`
	Depth     int      `json:"depth,omitempty" jsonschema:"Maximum traversal depth (default 3)"`
	MaxNodes  int      `json:"max_nodes,omitempty" jsonschema:"Maximum nodes to return (default 100)"`
}

// failingEnvsArgs are the arguments for the failing_envs tool.
type failingEnvsArgs struct {
	Task  string `json:"task" jsonschema:"required,Task name or command substring"`
	Limit int    `json:"limit,omitempty" jsonschema:"Environments to list per task (default 5)"`
}

// recordRunArgs are the arguments for the record_run tool.
type recordRunArgs struct {
	TaskName      string `json:"task_name,omitempty" jsonschema:"Task name"`
	Command       string `json:"command" jsonschema:"required,Command that was run"`
	EnvPath       string `json:"env_path" jsonschema:"required,Interpreter path the task ran in"`
	Success       bool   `json:"success" jsonschema:"Whether the run succeeded"`
	ExitCode      int    `json:"exit_code,omitempty" jsonschema:"Process exit code"`
	DurationMS    int64  `json:"duration_ms,omitempty" jsonschema:"Run duration in milliseconds"`
	ErrorCode     string `json:"error_code,omitempty" jsonschema:"Failure code, e.g. import_error or timeout"`
	DominantIssue string `json:"dominant_issue,omitempty" jsonschema:"Probe finding blamed for the failure"`
	Diagnostic    string `json:"diagnostic,omitempty" jsonschema:"Short failure message"`
}

// registerTools adds MCP tools for map generation, querying and run recording.
func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "generate_map",
		Description: "Load environment reports and run history, build the environment map, and synthesize fleet insights.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args generateMapArgs) (*mcp.CallToolResult, any, error) {
		return s.generateMap(ctx, args), nil, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "query_nodes",
		Description: "List map nodes filtered by type, health status, or label. Returns matching nodes as JSON.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args queryNodesArgs) (*mcp.CallToolResult, any, error) {
		return s.queryNodes(args), nil, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "explore_node",
		Description: "Walk the map from one node: its base, the environments built on it, and the tasks routed to them.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args exploreNodeArgs) (*mcp.CallToolResult, any, error) {
		return s.exploreNode(args), nil, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "failing_envs",
		Description: "Rank the environments where a task fails most, with failure counts and rates.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args failingEnvsArgs) (*mcp.CallToolResult, any, error) {
		return s.failingEnvs(args), nil, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "record_run",
		Description: "Append one task run to the run history. Run id and timestamp are assigned automatically.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args recordRunArgs) (*mcp.CallToolResult, any, error) {
		return s.recordRun(args), nil, nil
	})
}

func (s *Server) generateMap(ctx context.Context, args generateMapArgs) *mcp.CallToolResult {
	snapshot, err := s.eng.Generate(ctx)
	if err != nil {
		return errorResult(fmt.Sprintf("map generation failed: %v", err))
	}
	if args.Write {
		if err := s.eng.WriteArtifacts(); err != nil {
			log.Printf("[server] warning: failed to write artifacts: %v", err)
		}
	}

	sum := snapshot.Map.Summary
	var sb strings.Builder
	sb.WriteString("Map generated successfully.\n\n")
	fmt.Fprintf(&sb, "- Environments: %d (%d good, %d warn, %d bad)\n", sum.Environments, sum.Healthy, sum.Warning, sum.Broken)
	fmt.Fprintf(&sb, "- Bases: %d\n", sum.Bases)
	fmt.Fprintf(&sb, "- Tasks: %d\n", sum.Tasks)
	fmt.Fprintf(&sb, "- Runs: %d passed, %d failed\n", sum.PassedRuns, sum.FailedRuns)
	fmt.Fprintf(&sb, "- Insights: %d\n", snapshot.Meta.InsightCount)
	fmt.Fprintf(&sb, "- Duration: %s\n\n", snapshot.Meta.Duration)
	for _, in := range snapshot.Insights {
		fmt.Fprintf(&sb, "[%s] %s\n", in.Severity, in.Text)
	}
	sb.WriteString("\nRead envmap://map/report for the digest or envmap://map/diagram for the flowchart.")
	return textResult(sb.String())
}

func (s *Server) currentMap() (*graph.Map, *mcp.CallToolResult) {
	snapshot := s.eng.Snapshot()
	if snapshot == nil || snapshot.Map == nil {
		return nil, errorResult("No map available. Run generate_map first.")
	}
	return snapshot.Map, nil
}

func (s *Server) queryNodes(args queryNodesArgs) *mcp.CallToolResult {
	m, errRes := s.currentMap()
	if errRes != nil {
		return errRes
	}
	limit := args.Limit
	if limit <= 0 || limit > maxQueryResults {
		limit = maxQueryResults
	}
	needle := strings.ToLower(strings.TrimSpace(args.Label))

	var matched []graph.Node
	for _, n := range m.Nodes {
		if args.Type != "" && !strings.EqualFold(string(n.Type), args.Type) {
			continue
		}
		if args.Status != "" && !strings.EqualFold(string(n.Status()), args.Status) {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(n.Label), needle) &&
			!strings.Contains(strings.ToLower(n.Path), needle) {
			continue
		}
		matched = append(matched, n)
	}

	total := len(matched)
	if total > limit {
		matched = matched[:limit]
	}
	data, err := json.MarshalIndent(matched, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("failed to marshal results: %v", err))
	}
	text := string(data)
	if total > limit {
		text += fmt.Sprintf("\n\n... (showing %d of %d nodes, refine your query)", limit, total)
	}
	return textResult(text)
}

// resolveNode finds a node by id, then exact path, then label substring. A
// substring matching several nodes is ambiguous.
func resolveNode(ix *graph.Index, query string) (*graph.Node, []string) {
	if n := ix.Node(query); n != nil {
		return n, nil
	}
	m := ix.Map()
	for i := range m.Nodes {
		if m.Nodes[i].Path != "" && m.Nodes[i].Path == query {
			return &m.Nodes[i], nil
		}
	}
	needle := strings.ToLower(query)
	var hits []*graph.Node
	for i := range m.Nodes {
		if strings.Contains(strings.ToLower(m.Nodes[i].Label), needle) {
			hits = append(hits, &m.Nodes[i])
		}
	}
	if len(hits) == 1 {
		return hits[0], nil
	}
	var names []string
	for _, h := range hits {
		names = append(names, fmt.Sprintf("%s (%s, %s)", h.Label, h.Type, h.ID))
	}
	return nil, names
}

func (s *Server) exploreNode(args exploreNodeArgs) *mcp.CallToolResult {
	m, errRes := s.currentMap()
	if errRes != nil {
		return errRes
	}
	query := strings.TrimSpace(args.Node)
	if query == "" {
		return errorResult("node is required")
	}

	ix := graph.NewIndex(m)
	node, candidates := resolveNode(ix, query)
	if node == nil {
		if len(candidates) == 0 {
			return errorResult(fmt.Sprintf("No node matching %q", query))
		}
		return errorResult(fmt.Sprintf("%q is ambiguous, candidates:\n- %s", query, strings.Join(candidates, "\n- ")))
	}

	direction := args.Direction
	switch direction {
	case "forward", "reverse", "both":
	case "":
		direction = "both"
	default:
		return errorResult(fmt.Sprintf("invalid direction %q: want forward, reverse or both", direction))
	}
	var types []graph.EdgeType
	for _, t := range args.EdgeTypes {
		types = append(types, graph.EdgeType(strings.ToUpper(strings.TrimSpace(t))))
	}

	result := ix.Traverse(node.ID, direction, types, args.Depth, args.MaxNodes)
	data, err := json.MarshalIndent(struct {
		Root   *graph.Node           `json:"root"`
		Result graph.TraversalResult `json:"traversal"`
	}{node, result}, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("failed to marshal traversal: %v", err))
	}
	return textResult(string(data))
}

func (s *Server) failingEnvs(args failingEnvsArgs) *mcp.CallToolResult {
	query := strings.ToLower(strings.TrimSpace(args.Task))
	if query == "" {
		return errorResult("task is required")
	}
	clusters := s.eng.Clusters()
	if len(clusters) == 0 {
		return errorResult("No run history loaded. Record runs and run generate_map first.")
	}
	limit := args.Limit
	if limit <= 0 {
		limit = defaultFailingEnv
	}

	var matched []*cluster.Cluster
	for _, c := range clusters {
		if strings.Contains(strings.ToLower(c.Name), query) || strings.Contains(c.Command, query) {
			matched = append(matched, c)
		}
	}
	if len(matched) == 0 {
		return errorResult(fmt.Sprintf("No task matching %q", args.Task))
	}

	var sb strings.Builder
	for i, c := range matched {
		if i > 0 {
			sb.WriteString("\n")
		}
		name := c.Name
		if name == "" {
			name = c.Command
		}
		fmt.Fprintf(&sb, "### %s\n", name)
		fmt.Fprintf(&sb, "Command: `%s`  Runs: %d  Success: %.0f%%", c.Command, c.Runs, c.SuccessRate*100)
		if c.DominantFailure != "" {
			fmt.Fprintf(&sb, "  Dominant failure: %s", c.DominantFailure)
		}
		sb.WriteString("\n\n")

		envs := c.FailingEnvs(limit)
		if len(envs) == 0 {
			sb.WriteString("No failures recorded.\n")
			continue
		}
		sb.WriteString("| Environment | Failures | Runs | Failure rate |\n")
		sb.WriteString("|-------------|----------|------|--------------|\n")
		for _, ef := range envs {
			fmt.Fprintf(&sb, "| `%s` | %d | %d | %.0f%% |\n", ef.Path, ef.Failures, ef.Runs, ef.FailureRate*100)
		}
	}
	return textResult(sb.String())
}

func (s *Server) recordRun(args recordRunArgs) *mcp.CallToolResult {
	rec := graph.RunRecord{
		Task: graph.TaskSpec{Name: args.TaskName, Command: args.Command},
		Env:  graph.EnvRef{Path: args.EnvPath},
		Outcome: graph.Outcome{
			Success:    args.Success,
			ExitCode:   args.ExitCode,
			DurationMS: args.DurationMS,
			ErrorCode:  args.ErrorCode,
			Diagnostic: args.Diagnostic,
		},
		DominantIssue: args.DominantIssue,
	}
	if err := s.eng.RecordRun(&rec); err != nil {
		return errorResult(fmt.Sprintf("recording run failed: %v", err))
	}
	return textResult(fmt.Sprintf("Recorded run %s at %s. Run generate_map to refresh the map.", rec.RunID, rec.Timestamp))
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: msg},
		},
		IsError: true,
	}
}
