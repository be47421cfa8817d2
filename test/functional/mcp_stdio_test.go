package functional_test

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"

	"github.com/rpggio/shopbrain/internal/planner"
)

// stdioSession wraps an MCP client session for stdio transport testing
type stdioSession struct {
	session *sdkmcp.ClientSession
	cancel  context.CancelFunc
}

func newStdioSession(t *testing.T) *stdioSession {
	t.Helper()
	return newStdioSessionWithEnv(t, nil)
}

func newStdioSessionWithEnv(t *testing.T, extraEnv []string) *stdioSession {
	t.Helper()

	binaryPath := "./bin/shopbrain"
	if _, err := os.Stat(binaryPath); os.IsNotExist(err) {
		binaryPath = "../../bin/shopbrain"
		if _, err := os.Stat(binaryPath); os.IsNotExist(err) {
			t.Skip("Server binary not found. Build cmd/server to bin/shopbrain first.")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)

	cmd := exec.CommandContext(ctx, binaryPath)
	cmd.Env = append(os.Environ(),
		"SHOPBRAIN_TRANSPORT=stdio",
		"SHOPBRAIN_DB_PATH=:memory:",
		"SHOPBRAIN_AUTH_ENABLED=false",
		"SHOPBRAIN_PLANNER_API_KEY=",
	)
	if len(extraEnv) > 0 {
		cmd.Env = append(cmd.Env, extraEnv...)
	}

	transport := &sdkmcp.CommandTransport{Command: cmd}
	client := sdkmcp.NewClient(&sdkmcp.Implementation{
		Name:    "test-client",
		Version: "1.0.0",
	}, nil)

	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		cancel()
		t.Fatalf("Failed to connect: %v", err)
	}

	t.Cleanup(func() {
		session.Close()
		cancel()
	})

	return &stdioSession{session: session, cancel: cancel}
}

func (s *stdioSession) callTool(t *testing.T, name string, args map[string]any) (json.RawMessage, bool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result, err := s.session.CallTool(ctx, &sdkmcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	require.NoError(t, err, "CallTool %s failed", name)
	require.NotEmpty(t, result.Content, "Tool %s returned no content", name)

	for _, content := range result.Content {
		if textContent, ok := content.(*sdkmcp.TextContent); ok {
			return json.RawMessage(textContent.Text), result.IsError
		}
	}
	t.Fatalf("Tool %s returned no text content", name)
	return nil, false
}

func TestStdioFunctional_ChatWithoutPlanner(t *testing.T) {
	s := newStdioSession(t)

	raw, isErr := s.callTool(t, "brain_chat", map[string]any{"message": "hola"})
	require.False(t, isErr, string(raw))

	var out struct {
		OK    bool   `json:"ok"`
		Reply string `json:"reply"`
	}
	require.NoError(t, json.Unmarshal(raw, &out))
	require.True(t, out.OK)
	require.Equal(t, planner.UnavailableReply, out.Reply)
}

func TestStdioFunctional_TypedConfirmationIsNotExecution(t *testing.T) {
	s := newStdioSession(t)

	raw, isErr := s.callTool(t, "brain_chat", map[string]any{"message": "dale, confirmar"})
	require.False(t, isErr, string(raw))
	require.NotContains(t, string(raw), `"pending_action":{`)

	raw, isErr = s.callTool(t, "brain_confirm", nil)
	require.True(t, isErr)
	require.Contains(t, string(raw), "no_pending")
}

func TestStdioFunctional_DocumentationResources(t *testing.T) {
	s := newStdioSession(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	list, err := s.session.ListResources(ctx, nil)
	require.NoError(t, err)
	uris := map[string]bool{}
	for _, r := range list.Resources {
		uris[r.URI] = true
	}
	require.True(t, uris["shopbrain://docs/index"])
	require.True(t, uris["shopbrain://docs/variations"])

	res, err := s.session.ReadResource(ctx, &sdkmcp.ReadResourceParams{URI: "shopbrain://docs/index"})
	require.NoError(t, err)
	require.Contains(t, res.Contents[0].Text, "awaiting_confirmation")
}

func TestStdioFunctional_LogFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "shopbrain.log")
	s := newStdioSessionWithEnv(t, []string{
		"SHOPBRAIN_LOG_PATH=" + logPath,
		"SHOPBRAIN_LOG_LEVEL=debug",
	})

	_, _ = s.callTool(t, "brain_state", nil)

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(logPath)
		if err != nil {
			return false
		}
		text := string(data)
		return strings.Contains(text, `msg="mcp request"`) &&
			strings.Contains(text, `msg="mcp response"`)
	}, 5*time.Second, 100*time.Millisecond)
}
