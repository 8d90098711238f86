// Package graphspec decodes graph submissions from YAML or JSON.
//
// Two shapes are accepted. The native shape lists nodes explicitly:
//
//	name: report
//	nodes:
//	  - id: fetch
//	    agent_type: data_fetcher
//	  - id: chart
//	    agent_type: chart_generator
//	    dependencies: [fetch]
//
// The mapping shape keys nodes by name, each value being either an agent
// type or an object with agent_type, parameters and dependencies. A
// top-level "dependencies" entry may list extra [from, to] edges:
//
//	execution_graph:
//	  fetch: data_fetcher
//	  chart:
//	    agent_type: chart_generator
//	    parameters: {chart_type: line}
//	  dependencies: [[fetch, chart]]
package graphspec

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/aescanero/agentgraph/pkg/domain"
)

// ErrMalformed wraps documents that are not valid YAML or JSON
var ErrMalformed = errors.New("malformed graph document")

// dependenciesKey is reserved in the mapping shape for extra edges
const dependenciesKey = "dependencies"

// Request is a graph submission as received over HTTP or read from a file
type Request struct {
	Name           string                 `json:"name,omitempty" yaml:"name,omitempty"`
	Description    string                 `json:"description,omitempty" yaml:"description,omitempty"`
	Nodes          []domain.NodeSpec      `json:"nodes,omitempty" yaml:"nodes,omitempty"`
	ExecutionGraph map[string]interface{} `json:"execution_graph,omitempty" yaml:"execution_graph,omitempty"`
	Input          map[string]interface{} `json:"input,omitempty" yaml:"input,omitempty"`
	// Parameters is accepted as an alias of Input
	Parameters     map[string]interface{} `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	FailurePolicy  domain.FailurePolicy   `json:"failure_policy,omitempty" yaml:"failure_policy,omitempty"`
	TimeoutSeconds int                    `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"`
	Timeout        int                    `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	RetryAttempts  int                    `json:"retry_attempts,omitempty" yaml:"retry_attempts,omitempty"`
	// MaxRetries counts retries after the first attempt
	MaxRetries     int                    `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`

	keyOrder []string
}

// Load reads and parses a graph file
func Load(path string) (*domain.GraphSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read graph spec: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML or JSON document. Node order in the mapping shape
// follows the document.
func Parse(data []byte) (*domain.GraphSpec, error) {
	var req Request
	if err := yaml.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var order struct {
		ExecutionGraph yaml.Node `yaml:"execution_graph"`
	}
	if err := yaml.Unmarshal(data, &order); err == nil && order.ExecutionGraph.Kind == yaml.MappingNode {
		content := order.ExecutionGraph.Content
		for i := 0; i+1 < len(content); i += 2 {
			req.keyOrder = append(req.keyOrder, content[i].Value)
		}
	}
	return req.ToSpec()
}

// ToSpec converts the request into a GraphSpec. Structural validation is
// left to the orchestrator; only shape errors are reported here.
func (r *Request) ToSpec() (*domain.GraphSpec, error) {
	if len(r.Nodes) > 0 && len(r.ExecutionGraph) > 0 {
		return nil, domain.Invalidf(domain.ReasonInvalidSetting, "", "nodes and execution_graph are mutually exclusive")
	}

	spec := &domain.GraphSpec{
		Name:           r.Name,
		Description:    r.Description,
		Nodes:          r.Nodes,
		Input:          r.Input,
		FailurePolicy:  r.FailurePolicy,
		TimeoutSeconds: r.TimeoutSeconds,
		RetryAttempts:  r.RetryAttempts,
	}
	if spec.Input == nil {
		spec.Input = r.Parameters
	}
	if spec.TimeoutSeconds == 0 {
		spec.TimeoutSeconds = r.Timeout
	}
	if spec.RetryAttempts == 0 && r.MaxRetries > 0 {
		spec.RetryAttempts = r.MaxRetries + 1
	}

	if len(r.ExecutionGraph) > 0 {
		order := r.keyOrder
		if len(order) == 0 {
			order = sortedKeys(r.ExecutionGraph)
		}
		nodes, err := fromMapping(r.ExecutionGraph, order)
		if err != nil {
			return nil, err
		}
		spec.Nodes = nodes
	}
	return spec, nil
}

// FromMapping converts the mapping shape into node specs, ordered by name
func FromMapping(graph map[string]interface{}) ([]domain.NodeSpec, error) {
	return fromMapping(graph, sortedKeys(graph))
}

func fromMapping(graph map[string]interface{}, order []string) ([]domain.NodeSpec, error) {
	var nodes []domain.NodeSpec
	index := make(map[string]int)

	for _, name := range order {
		if name == dependenciesKey {
			continue
		}
		n, err := nodeFromValue(name, graph[name])
		if err != nil {
			return nil, err
		}
		index[name] = len(nodes)
		nodes = append(nodes, n)
	}

	if raw, ok := graph[dependenciesKey]; ok {
		edges, err := edgeList(raw)
		if err != nil {
			return nil, err
		}
		for _, e := range edges {
			i, ok := index[e[1]]
			if !ok {
				return nil, domain.Invalidf(domain.ReasonUnknownDependency, e[1], "edge target does not exist")
			}
			if !contains(nodes[i].Dependencies, e[0]) {
				nodes[i].Dependencies = append(nodes[i].Dependencies, e[0])
			}
		}
	}
	return nodes, nil
}

func nodeFromValue(name string, value interface{}) (domain.NodeSpec, error) {
	switch v := value.(type) {
	case string:
		return domain.NodeSpec{ID: name, AgentType: v}, nil

	case map[string]interface{}:
		n := domain.NodeSpec{ID: name}
		if at, ok := v["agent_type"].(string); ok {
			n.AgentType = at
		}
		for _, key := range []string{"parameters", "config"} {
			if cfg, ok := v[key].(map[string]interface{}); ok {
				n.Config = cfg
				break
			}
		}
		deps, err := stringList(v[dependenciesKey])
		if err != nil {
			return n, domain.Invalidf(domain.ReasonInvalidSetting, name, "dependencies: %v", err)
		}
		n.Dependencies = deps
		if n.TimeoutSeconds, err = intField(v, "timeout_seconds"); err != nil {
			return n, domain.Invalidf(domain.ReasonInvalidSetting, name, "%v", err)
		}
		if n.MaxAttempts, err = intField(v, "max_attempts"); err != nil {
			return n, domain.Invalidf(domain.ReasonInvalidSetting, name, "%v", err)
		}
		return n, nil

	default:
		return domain.NodeSpec{}, domain.Invalidf(domain.ReasonInvalidSetting, name,
			"node must be an agent type or an object, got %T", value)
	}
}

func edgeList(raw interface{}) ([][2]string, error) {
	items, ok := raw.([]interface{})
	if !ok {
		return nil, domain.Invalidf(domain.ReasonInvalidSetting, "", "dependencies must be a list of [from, to] pairs")
	}
	edges := make([][2]string, 0, len(items))
	for _, item := range items {
		pair, err := stringList(item)
		if err != nil || len(pair) != 2 {
			return nil, domain.Invalidf(domain.ReasonInvalidSetting, "", "dependency edge %v is not a [from, to] pair", item)
		}
		edges = append(edges, [2]string{pair[0], pair[1]})
	}
	return edges, nil
}

func stringList(raw interface{}) ([]string, error) {
	if raw == nil {
		return nil, nil
	}
	items, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("expected a list, got %T", raw)
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("expected a string, got %T", item)
		}
		out = append(out, s)
	}
	return out, nil
}

func intField(m map[string]interface{}, key string) (int, error) {
	switch v := m[key].(type) {
	case nil:
		return 0, nil
	case int:
		return v, nil
	case float64:
		if v != float64(int(v)) {
			return 0, fmt.Errorf("%s must be a whole number", key)
		}
		return int(v), nil
	default:
		return 0, fmt.Errorf("%s must be a number, got %T", key, v)
	}
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
