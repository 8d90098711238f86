package graphspec

import (
	"embed"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/aescanero/agentgraph/pkg/domain"
)

//go:embed examples/*.yaml
var exampleFS embed.FS

// Examples returns the names of the built-in example graphs, sorted
func Examples() []string {
	entries, err := exampleFS.ReadDir("examples")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), path.Ext(e.Name())))
	}
	sort.Strings(names)
	return names
}

// Example parses the built-in example graph called name. It returns
// domain.ErrNotFound for unknown names.
func Example(name string) (*domain.GraphSpec, error) {
	if strings.ContainsAny(name, "/.") {
		return nil, fmt.Errorf("example %q: %w", name, domain.ErrNotFound)
	}
	data, err := exampleFS.ReadFile(path.Join("examples", name+".yaml"))
	if err != nil {
		return nil, fmt.Errorf("example %q: %w", name, domain.ErrNotFound)
	}
	return Parse(data)
}
