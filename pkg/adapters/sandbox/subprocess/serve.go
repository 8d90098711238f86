package subprocess

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/aescanero/agentgraph/pkg/domain"
	"github.com/aescanero/agentgraph/pkg/ports"
)

// Serve is the child side of the protocol: it reads one invocation from r,
// runs it through inner and writes the Response to w. Agent failures are
// reported inside the Response; the returned error covers protocol failures.
func Serve(ctx context.Context, inner ports.Sandbox, r io.Reader, w io.Writer) error {
	var inv ports.Invocation
	if err := json.NewDecoder(r).Decode(&inv); err != nil {
		return fmt.Errorf("decode invocation: %w", err)
	}

	// the parent enforces the deadline and signals us; don't race it here
	inv.Timeout = 0

	var resp Response
	res, err := inner.Invoke(ctx, inv)
	if err != nil {
		var info *domain.ErrorInfo
		if !errors.As(err, &info) {
			info = domain.AsErrorInfo(err)
		}
		resp.Error = info
	} else {
		resp.Result = res
	}

	if err := json.NewEncoder(w).Encode(&resp); err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	return nil
}
