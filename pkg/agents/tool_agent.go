package agents

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/aescanero/agentgraph/pkg/domain"
	"github.com/aescanero/agentgraph/pkg/ports"
)

const (
	TextProcessorType  = "text_processor"
	DataFetcherType    = "data_fetcher"
	ChartGeneratorType = "chart_generator"
)

// paramsBuilder turns node config plus upstream input into tool parameters
type paramsBuilder func(config map[string]interface{}, input *domain.AgentInput) (map[string]interface{}, error)

// toolAgent delegates its work to one tool through the invocation hook
type toolAgent struct {
	tool   string
	build  paramsBuilder
	config map[string]interface{}
}

// NewTextProcessorAgent runs the text_processor tool. Without an explicit
// "text" in its config it processes the text produced upstream or the
// global "text" input.
func NewTextProcessorAgent() ports.Agent {
	return &toolAgent{tool: "text_processor", build: textParams}
}

// NewDataFetcherAgent runs the data_fetcher tool with the node config
func NewDataFetcherAgent() ports.Agent {
	return &toolAgent{tool: "data_fetcher", build: fetchParams}
}

// NewChartGeneratorAgent runs the chart_generator tool, taking values from
// its config or from the first upstream result carrying them.
func NewChartGeneratorAgent() ports.Agent {
	return &toolAgent{tool: "chart_generator", build: chartParams}
}

func (a *toolAgent) Initialize(ctx context.Context, config map[string]interface{}) error {
	a.config = config
	if a.config == nil {
		a.config = map[string]interface{}{}
	}
	return nil
}

func (a *toolAgent) Execute(ctx context.Context, input *domain.AgentInput, execCtx *ports.ExecutionContext) (*domain.AgentResult, error) {
	if execCtx == nil || execCtx.Tools == nil {
		return nil, domain.Fatal("%s: no tool invoker available", a.tool)
	}
	params, err := a.build(a.config, input)
	if err != nil {
		return nil, err
	}

	if execCtx.Logger != nil {
		execCtx.Logger.Debug("invoking tool",
			zap.String("tool", a.tool),
			zap.String("node_id", execCtx.NodeID),
			zap.Int("attempt", execCtx.Attempt))
	}

	out, err := execCtx.Tools.Invoke(ctx, a.tool, params)
	if err != nil {
		return nil, err
	}

	result := &domain.AgentResult{Output: out}
	if a.tool == "chart_generator" {
		if rendered, ok := out["data"].(string); ok {
			result.Artifacts = [][]byte{[]byte(rendered)}
		}
	}
	return result, nil
}

func (a *toolAgent) Shutdown(ctx context.Context) error { return nil }

func copyConfig(config map[string]interface{}) map[string]interface{} {
	params := domain.CopyMap(config)
	if params == nil {
		params = make(map[string]interface{})
	}
	return params
}

func textParams(config map[string]interface{}, input *domain.AgentInput) (map[string]interface{}, error) {
	params := copyConfig(config)
	if _, ok := params["operation"]; !ok {
		params["operation"] = "analyze"
	}
	if text, _ := params["text"].(string); text == "" {
		params["text"] = upstreamText(input)
	}
	if text, _ := params["text"].(string); strings.TrimSpace(text) == "" {
		return nil, domain.Fatal("text_processor: no text in config, upstream results or input")
	}
	return params, nil
}

func fetchParams(config map[string]interface{}, input *domain.AgentInput) (map[string]interface{}, error) {
	params := copyConfig(config)
	if src, _ := params["source"].(string); src == "" {
		if input != nil {
			if src, ok := input.Global["source"].(string); ok {
				params["source"] = src
			}
		}
	}
	if src, _ := params["source"].(string); src == "" {
		return nil, domain.Fatal("data_fetcher: source is required")
	}
	return params, nil
}

func chartParams(config map[string]interface{}, input *domain.AgentInput) (map[string]interface{}, error) {
	params := copyConfig(config)
	if _, ok := params["data"]; ok {
		return params, nil
	}
	if values := upstreamValues(input); values != nil {
		params["data"] = map[string]interface{}{"values": values}
		return params, nil
	}
	return nil, domain.Fatal("chart_generator: no values in config or upstream results")
}

// textKeys are checked in order on upstream outputs and nested results
var textKeys = []string{"text", "summary", "cleaned_text", "translated_text", "content", "data"}

func upstreamText(input *domain.AgentInput) string {
	if input == nil {
		return ""
	}
	var parts []string
	for _, id := range sortedUpstream(input) {
		res := input.Upstream[id]
		if res == nil {
			continue
		}
		if s := findText(res.Output); s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) > 0 {
		return strings.Join(parts, "\n\n")
	}
	if s, ok := input.Global["text"].(string); ok {
		return s
	}
	return ""
}

func findText(out map[string]interface{}) string {
	for _, k := range textKeys {
		switch v := out[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case map[string]interface{}, []interface{}:
			if k == "data" {
				raw, err := json.Marshal(v)
				if err == nil {
					return string(raw)
				}
			}
		}
	}
	if nested, ok := out["result"].(map[string]interface{}); ok {
		return findText(nested)
	}
	return ""
}

func upstreamValues(input *domain.AgentInput) []interface{} {
	if input == nil {
		return nil
	}
	for _, id := range sortedUpstream(input) {
		res := input.Upstream[id]
		if res == nil {
			continue
		}
		if v := findValues(res.Output); v != nil {
			return v
		}
	}
	if v, ok := input.Global["values"].([]interface{}); ok {
		return v
	}
	return nil
}

func findValues(out map[string]interface{}) []interface{} {
	if v, ok := out["values"].([]interface{}); ok {
		return v
	}
	switch data := out["data"].(type) {
	case []interface{}:
		return data
	case map[string]interface{}:
		return findValues(data)
	}
	return nil
}

func sortedUpstream(input *domain.AgentInput) []string {
	ids := make([]string, 0, len(input.Upstream))
	for id := range input.Upstream {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
