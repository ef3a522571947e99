package agents

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bt-bridge/voice-relay/config"
	"github.com/bt-bridge/voice-relay/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bufferHook struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *bufferHook) WriteString(s string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.WriteString(s)
}

func (b *bufferHook) Close() error { return nil }

func (b *bufferHook) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Addr = "127.0.0.1:0"
	cfg.OpenAI.APIKey = "sk-openai-0123456789"
	cfg.Anthropic.APIKey = "sk-ant-0123456789"
	cfg.RTC.ICEServers = nil
	return cfg
}

func testPrinter(t *testing.T) (*shared.Printer, *bufferHook) {
	t.Helper()
	hook := &bufferHook{}
	printer, err := shared.NewPrinter("│  ", hook)
	require.NoError(t, err)
	return printer, hook
}

func TestRelayAgent_SpawnValidation(t *testing.T) {
	printer, _ := testPrinter(t)
	agent := new(RelayAgent)

	assert.ErrorIs(t, agent.Spawn(context.Background(), nil, testConfig(), printer), shared.ErrNoLogger)
	assert.ErrorIs(t, agent.Spawn(context.Background(), shared.NewNopLogger(), nil, printer), shared.ErrNoConfig)
	assert.Error(t, agent.Spawn(context.Background(), shared.NewNopLogger(), testConfig(), nil))
	assert.Nil(t, agent.Done())
	assert.NoError(t, agent.Close())
}

func TestRelayAgent_SpawnFailsOnUnknownProvider(t *testing.T) {
	printer, _ := testPrinter(t)
	cfg := testConfig()
	cfg.LLM.Provider = "mystery"

	err := new(RelayAgent).Spawn(context.Background(), shared.NewNopLogger(), cfg, printer)
	assert.ErrorIs(t, err, shared.ErrUnknownProvider)
}

func TestRelayAgent_SpawnAndClose(t *testing.T) {
	printer, hook := testPrinter(t)
	agent := new(RelayAgent)

	require.NoError(t, agent.Spawn(context.Background(), shared.NewNopLogger(), testConfig(), printer))
	assert.ErrorIs(t,
		agent.Spawn(context.Background(), shared.NewNopLogger(), testConfig(), printer),
		shared.ErrAgentAlreadyRunning,
	)

	out := hook.String()
	assert.Contains(t, out, "Spawning voice relay agent")
	assert.Contains(t, out, "│  addr:")
	assert.Contains(t, out, "127.0.0.1:0")
	assert.NotContains(t, out, "sk-openai-0123456789")

	require.NoError(t, agent.Close())
	select {
	case <-agent.Done():
	case <-time.After(time.Second):
		t.Fatal("agent did not stop")
	}
	assert.NoError(t, agent.Err())
}

func TestRelayAgent_StopsWithParentContext(t *testing.T) {
	printer, _ := testPrinter(t)
	ctx, cancel := context.WithCancel(context.Background())
	agent := new(RelayAgent)
	require.NoError(t, agent.Spawn(ctx, shared.NewNopLogger(), testConfig(), printer))

	cancel()
	select {
	case <-agent.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("agent did not stop")
	}
	assert.NoError(t, agent.Err())
}

func TestRelayAgent_ListenFailureIsReported(t *testing.T) {
	printer, _ := testPrinter(t)
	cfg := testConfig()
	cfg.Addr = "256.0.0.1:99999"
	agent := new(RelayAgent)
	require.NoError(t, agent.Spawn(context.Background(), shared.NewNopLogger(), cfg, printer))

	select {
	case <-agent.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("agent did not stop")
	}
	assert.Error(t, agent.Err())
}
