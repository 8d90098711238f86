package local

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/aescanero/agentgraph/pkg/domain"
)

const maxFetchBytes = 10 << 20

// DataFetcher reads data from HTTP endpoints and local files
type DataFetcher struct {
	client *http.Client
}

// NewDataFetcher creates the data_fetcher tool. A nil client uses http.DefaultClient.
func NewDataFetcher(client *http.Client) *DataFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &DataFetcher{client: client}
}

func (f *DataFetcher) Name() string { return "data_fetcher" }

func (f *DataFetcher) Description() string {
	return "Fetches data from HTTP APIs and the local file system"
}

// Execute dispatches on "source_type" (http or file)
func (f *DataFetcher) Execute(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	source := stringParam(params, "source", "")
	if source == "" {
		return nil, domain.Fatal("data_fetcher: source is required")
	}

	switch st := stringParam(params, "source_type", "http"); st {
	case "http":
		return f.fetchHTTP(ctx, source, params)
	case "file":
		return f.fetchFile(source)
	default:
		return nil, domain.Fatal("data_fetcher: unsupported source_type %q", st)
	}
}

func (f *DataFetcher) fetchHTTP(ctx context.Context, url string, params map[string]interface{}) (map[string]interface{}, error) {
	method := strings.ToUpper(stringParam(params, "method", http.MethodGet))
	if timeout := intParam(params, "timeout", 0); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
		defer cancel()
	}

	var body io.Reader
	if b, ok := params["body"]; ok && b != nil && method != http.MethodGet {
		raw, err := json.Marshal(b)
		if err != nil {
			return nil, domain.Fatal("data_fetcher: encode body: %v", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, domain.Fatal("data_fetcher: build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if headers, ok := params["headers"].(map[string]interface{}); ok {
		for k, v := range headers {
			req.Header.Set(k, fmt.Sprint(v))
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, domain.Transient("data_fetcher: request %s: %v", url, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return nil, domain.Transient("data_fetcher: read body: %v", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, domain.Transient("data_fetcher: HTTP %d from %s", resp.StatusCode, url)
	case resp.StatusCode >= 400:
		return nil, domain.Fatal("data_fetcher: HTTP %d from %s: %s", resp.StatusCode, url, truncate(string(raw), 200))
	}

	headers := make(map[string]interface{}, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}
	return map[string]interface{}{
		"data":        decodeMaybeJSON(raw),
		"status_code": resp.StatusCode,
		"headers":     headers,
		"source":      url,
	}, nil
}

func (f *DataFetcher) fetchFile(path string) (map[string]interface{}, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, domain.Fatal("data_fetcher: read %s: %v", path, err)
	}
	return map[string]interface{}{
		"data":   decodeMaybeJSON(raw),
		"source": path,
		"size":   len(raw),
	}, nil
}

func decodeMaybeJSON(raw []byte) interface{} {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err == nil {
		return v
	}
	return string(raw)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
