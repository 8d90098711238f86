package local

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/aescanero/agentgraph/pkg/domain"
)

var chartTypes = map[string]bool{"line": true, "bar": true, "pie": true, "scatter": true, "histogram": true}

// ChartGenerator renders simple chart documents from a list of values
type ChartGenerator struct{}

// NewChartGenerator creates the chart_generator tool
func NewChartGenerator() *ChartGenerator { return &ChartGenerator{} }

func (c *ChartGenerator) Name() string { return "chart_generator" }

func (c *ChartGenerator) Description() string {
	return "Generates line, bar, pie, scatter and histogram charts as svg, html or json"
}

// Execute expects "chart_type" and "data" holding a "values" list
func (c *ChartGenerator) Execute(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	chartType := stringParam(params, "chart_type", "")
	if !chartTypes[chartType] {
		return nil, domain.Fatal("chart_generator: unsupported chart_type %q", chartType)
	}
	data, _ := params["data"].(map[string]interface{})
	values, _ := data["values"].([]interface{})
	if len(values) == 0 {
		return nil, domain.Fatal("chart_generator: no data values provided")
	}

	spec := map[string]interface{}{
		"type":   chartType,
		"title":  stringParam(params, "title", "Generated Chart"),
		"data":   values,
		"width":  intParam(params, "width", 800),
		"height": intParam(params, "height", 600),
	}
	if chartType != "pie" {
		spec["x_label"] = stringParam(params, "x_label", "X Axis")
		spec["y_label"] = stringParam(params, "y_label", "Y Axis")
	}

	format := stringParam(params, "output_format", "svg")
	var rendered interface{}
	switch format {
	case "svg":
		rendered = renderSVG(spec)
	case "html":
		rendered = renderHTML(spec)
	case "json":
		rendered = spec
	default:
		return nil, domain.Fatal("chart_generator: unsupported output_format %q", format)
	}

	return map[string]interface{}{
		"chart_type":    chartType,
		"output_format": format,
		"data":          rendered,
		"metadata": map[string]interface{}{
			"title":        spec["title"],
			"dimensions":   map[string]interface{}{"width": spec["width"], "height": spec["height"]},
			"points":       len(values),
			"generated_at": time.Now().UTC().Format(time.RFC3339),
		},
	}, nil
}

func renderSVG(spec map[string]interface{}) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<svg width="%d" height="%d" xmlns="http://www.w3.org/2000/svg">`, spec["width"], spec["height"])
	fmt.Fprintf(&b, `<title>%s</title>`, html.EscapeString(fmt.Sprint(spec["title"])))
	b.WriteString(`<rect width="100%" height="100%" fill="white" stroke="black"/>`)
	fmt.Fprintf(&b, `<text x="50%%" y="30" text-anchor="middle" font-size="16">%s</text>`, html.EscapeString(fmt.Sprint(spec["title"])))
	fmt.Fprintf(&b, `<text x="50%%" y="50" text-anchor="middle" font-size="12">Chart Type: %s</text>`, spec["type"])
	b.WriteString(`</svg>`)
	return b.String()
}

func renderHTML(spec map[string]interface{}) string {
	values, _ := spec["data"].([]interface{})
	return fmt.Sprintf(`<div class="chart" style="width: %dpx; height: %dpx;"><h3>%s</h3><div class="chart-content"><p>Chart Type: %s</p><p>Data Points: %d</p></div></div>`,
		spec["width"], spec["height"], html.EscapeString(fmt.Sprint(spec["title"])), spec["type"], len(values))
}
