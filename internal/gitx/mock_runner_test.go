// internal/gitx/mock_runner_test.go
package gitx

import (
	"context"
	"fmt"
	"strings"
)

// mockRunner implements Runner for testing.
type mockRunner struct {
	// responses maps "dir:args" keys to (output, error) pairs.
	responses map[string]mockResponse
	calls     []string
}

type mockResponse struct {
	out string
	err error
}

func (m *mockRunner) Run(_ context.Context, dir string, args ...string) (string, error) {
	key := dir + ":" + strings.Join(args, " ")
	m.calls = append(m.calls, key)
	if resp, ok := m.responses[key]; ok {
		return resp.out, resp.err
	}
	return "", fmt.Errorf("unexpected call: dir=%q args=%v", dir, args)
}
