package logging

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/embedded"
)

type recordingProvider struct {
	embedded.LoggerProvider

	mu     sync.Mutex
	scopes []string
	bodies []string
}

func (p *recordingProvider) Logger(name string, _ ...log.LoggerOption) log.Logger {
	p.mu.Lock()
	p.scopes = append(p.scopes, name)
	p.mu.Unlock()
	return &recordingLogger{p: p}
}

type recordingLogger struct {
	embedded.Logger
	p *recordingProvider
}

func (l *recordingLogger) Emit(_ context.Context, r log.Record) {
	l.p.mu.Lock()
	defer l.p.mu.Unlock()
	l.p.bodies = append(l.p.bodies, r.Body().AsString())
}

func (l *recordingLogger) Enabled(context.Context, log.Record) bool { return true }

func newOTELConfig(buf *bytes.Buffer, out OutputConfig) *Config {
	cfg := NewDefaultConfig()
	cfg.Writer = buf
	cfg.Sampling.Enabled = false
	cfg.Caller.Enabled = false
	cfg.Output = out
	return cfg
}

func TestNewLogger_OTELAndStdout(t *testing.T) {
	buf := &bytes.Buffer{}
	provider := &recordingProvider{}

	logger, err := NewLogger(newOTELConfig(buf, OutputConfig{Stdout: true, OTEL: true}), provider)
	require.NoError(t, err)

	logger.Info(context.Background(), "pattern completed")

	assert.Contains(t, buf.String(), "pattern completed")
	provider.mu.Lock()
	defer provider.mu.Unlock()
	assert.Equal(t, []string{"processd"}, provider.scopes)
	assert.Equal(t, []string{"pattern completed"}, provider.bodies)
}

func TestNewLogger_OTELOnly(t *testing.T) {
	buf := &bytes.Buffer{}
	provider := &recordingProvider{}

	logger, err := NewLogger(newOTELConfig(buf, OutputConfig{OTEL: true}), provider)
	require.NoError(t, err)

	logger.Warn(context.Background(), "rollback started")

	assert.Empty(t, buf.String())
	provider.mu.Lock()
	defer provider.mu.Unlock()
	assert.Equal(t, []string{"rollback started"}, provider.bodies)
}

func TestNewLogger_OTELWithoutProvider(t *testing.T) {
	buf := &bytes.Buffer{}

	_, err := NewLogger(newOTELConfig(buf, OutputConfig{OTEL: true}), nil)
	assert.Error(t, err)

	logger, err := NewLogger(newOTELConfig(buf, OutputConfig{Stdout: true, OTEL: true}), nil)
	require.NoError(t, err)
	logger.Info(context.Background(), "stdout still works")
	assert.Contains(t, buf.String(), "stdout still works")
}
