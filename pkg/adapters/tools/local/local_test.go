package local

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/aescanero/agentgraph/pkg/adapters/metrics/noop"
	"github.com/aescanero/agentgraph/pkg/domain"
)

func kindOf(t *testing.T, err error) domain.ErrorKind {
	t.Helper()
	var info *domain.ErrorInfo
	require.True(t, errors.As(err, &info), "expected *domain.ErrorInfo, got %T", err)
	return info.Kind
}

func TestRegistryInvoke(t *testing.T) {
	r := NewDefaultRegistry(noop.NewCollector(), zaptest.NewLogger(t))

	names := make([]string, 0)
	for _, info := range r.Tools() {
		names = append(names, info.Name)
	}
	assert.Equal(t, []string{"chart_generator", "data_fetcher", "text_processor"}, names)

	_, err := r.Invoke(context.Background(), "missing", nil)
	assert.Equal(t, domain.KindFatal, kindOf(t, err))

	err = r.Register(NewTextProcessor())
	assert.Error(t, err)
}

func TestTextProcessorOperations(t *testing.T) {
	tp := NewTextProcessor()
	ctx := context.Background()

	out, err := tp.Execute(ctx, map[string]interface{}{"operation": "analyze", "text": "Hello world. Go is great!"})
	require.NoError(t, err)
	stats := out["result"].(map[string]interface{})["statistics"].(map[string]interface{})
	assert.Equal(t, 5, stats["words"])
	assert.Equal(t, 2, stats["sentences"])

	out, err = tp.Execute(ctx, map[string]interface{}{"operation": "summarize", "text": "one two three four", "max_length": 2})
	require.NoError(t, err)
	assert.Equal(t, "one two...", out["result"].(map[string]interface{})["summary"])

	out, err = tp.Execute(ctx, map[string]interface{}{"operation": "extract_keywords", "text": "graph graph node the node graph at"})
	require.NoError(t, err)
	kws := out["result"].(map[string]interface{})["keywords"].([]keyword)
	require.Len(t, kws, 2)
	assert.Equal(t, keyword{Word: "graph", Frequency: 3}, kws[0])

	out, err = tp.Execute(ctx, map[string]interface{}{"operation": "sentiment", "text": "great great bad"})
	require.NoError(t, err)
	assert.Equal(t, "positive", out["result"].(map[string]interface{})["sentiment"])

	out, err = tp.Execute(ctx, map[string]interface{}{"operation": "clean", "text": "  a   b#c  "})
	require.NoError(t, err)
	assert.Equal(t, "a bc", out["result"].(map[string]interface{})["cleaned_text"])

	_, err = tp.Execute(ctx, map[string]interface{}{"operation": "dance", "text": "x"})
	assert.Equal(t, domain.KindFatal, kindOf(t, err))

	_, err = tp.Execute(ctx, map[string]interface{}{"operation": "analyze", "text": "   "})
	assert.Equal(t, domain.KindFatal, kindOf(t, err))
}

func TestDataFetcherHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"values":[1,2,3]}`))
		case "/busy":
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	f := NewDataFetcher(srv.Client())
	ctx := context.Background()

	out, err := f.Execute(ctx, map[string]interface{}{"source_type": "http", "source": srv.URL + "/ok"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, out["status_code"])
	assert.Equal(t, []interface{}{1.0, 2.0, 3.0}, out["data"].(map[string]interface{})["values"])

	_, err = f.Execute(ctx, map[string]interface{}{"source": srv.URL + "/busy"})
	assert.Equal(t, domain.KindTransient, kindOf(t, err))

	_, err = f.Execute(ctx, map[string]interface{}{"source": srv.URL + "/missing"})
	assert.Equal(t, domain.KindFatal, kindOf(t, err))
}

func TestDataFetcherFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.txt")
	require.NoError(t, os.WriteFile(path, []byte("plain text"), 0o600))

	out, err := NewDataFetcher(nil).Execute(context.Background(), map[string]interface{}{"source_type": "file", "source": path})
	require.NoError(t, err)
	assert.Equal(t, "plain text", out["data"])
	assert.Equal(t, 10, out["size"])
}

func TestChartGenerator(t *testing.T) {
	c := NewChartGenerator()
	out, err := c.Execute(context.Background(), map[string]interface{}{
		"chart_type": "bar",
		"title":      "Sales",
		"data":       map[string]interface{}{"values": []interface{}{1, 2}},
	})
	require.NoError(t, err)
	assert.Equal(t, "svg", out["output_format"])
	assert.Contains(t, out["data"], "<title>Sales</title>")

	_, err = c.Execute(context.Background(), map[string]interface{}{"chart_type": "bar", "data": map[string]interface{}{}})
	assert.Equal(t, domain.KindFatal, kindOf(t, err))
}
