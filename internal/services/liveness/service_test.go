package liveness

import (
	"context"
	"errors"
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fgeck/gofleet/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockLocal struct {
	mock.Mock
}

func (m *mockLocal) Run(ctx context.Context, command string) (*models.CommandOutput, error) {
	args := m.Called(ctx, command)
	out, _ := args.Get(0).(*models.CommandOutput)
	return out, args.Error(1)
}

func (m *mockLocal) Exec(ctx context.Context, name string, args ...string) (*models.CommandOutput, error) {
	a := m.Called(ctx, name, args)
	out, _ := a.Get(0).(*models.CommandOutput)
	return out, a.Error(1)
}

type mockDialer struct {
	mock.Mock
}

func (m *mockDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	args := m.Called(ctx, network, address)
	conn, _ := args.Get(0).(net.Conn)
	return conn, args.Error(1)
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func TestIsReachable_ICMP(t *testing.T) {
	localSvc := &mockLocal{}
	localSvc.On("Exec", mock.Anything, "ping", []string{"-c", "1", "-W", "2", "10.0.0.1"}).
		Return(&models.CommandOutput{}, nil).Once()
	localSvc.On("Exec", mock.Anything, "ping", []string{"-c", "1", "-W", "2", "10.0.0.2"}).
		Return(&models.CommandOutput{ExitCode: 1}, errors.New("ping failed")).Once()

	svc := New(models.LivenessConfig{Method: MethodICMP, Timeout: 1500 * time.Millisecond}, localSvc, testLogger())

	assert.True(t, svc.IsReachable(context.Background(), models.MustParseHost("root@10.0.0.1")))
	assert.False(t, svc.IsReachable(context.Background(), models.MustParseHost("root@10.0.0.2")))
	localSvc.AssertExpectations(t)
}

func TestIsReachable_ICMPDefaultMethod(t *testing.T) {
	localSvc := &mockLocal{}
	localSvc.On("Exec", mock.Anything, "ping", []string{"-c", "1", "-W", "1", "db"}).
		Return(&models.CommandOutput{}, nil).Once()

	svc := New(models.LivenessConfig{Timeout: 100 * time.Millisecond}, localSvc, testLogger())

	assert.True(t, svc.IsReachable(context.Background(), models.MustParseHost("db")))
	localSvc.AssertExpectations(t)
}

func TestIsReachable_TCP(t *testing.T) {
	dialer := &mockDialer{}
	client, server := net.Pipe()
	defer func() { _ = server.Close() }()

	dialer.On("DialContext", mock.Anything, "tcp", "10.0.0.1:2222").Return(client, nil).Once()
	dialer.On("DialContext", mock.Anything, "tcp", "10.0.0.2:22").Return(nil, errors.New("connection refused")).Once()

	svc := NewWithDialer(models.LivenessConfig{Method: MethodTCP, Timeout: time.Second}, &mockLocal{}, dialer, testLogger())

	assert.True(t, svc.IsReachable(context.Background(), models.MustParseHost("root@10.0.0.1:2222")))
	assert.False(t, svc.IsReachable(context.Background(), models.MustParseHost("root@10.0.0.2")))
	dialer.AssertExpectations(t)
}

func TestIsReachable_TCPRealListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()

	port := ln.Addr().(*net.TCPAddr).Port
	host := models.Host{User: "root", Address: "127.0.0.1", Port: port}

	svc := New(models.LivenessConfig{Method: MethodTCP, Timeout: time.Second}, &mockLocal{}, testLogger())

	assert.True(t, svc.IsReachable(context.Background(), host))
}

// countingLocal tracks concurrent ping invocations.
type countingLocal struct {
	active  atomic.Int32
	maxSeen atomic.Int32
}

func (c *countingLocal) Run(ctx context.Context, command string) (*models.CommandOutput, error) {
	return nil, errors.New("not used")
}

func (c *countingLocal) Exec(ctx context.Context, name string, args ...string) (*models.CommandOutput, error) {
	n := c.active.Add(1)
	for {
		seen := c.maxSeen.Load()
		if n <= seen || c.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	time.Sleep(20 * time.Millisecond)
	c.active.Add(-1)

	if args[len(args)-1] == "down" {
		return &models.CommandOutput{ExitCode: 1}, errors.New("ping failed")
	}
	return &models.CommandOutput{}, nil
}

func TestProbe(t *testing.T) {
	localSvc := &countingLocal{}
	svc := New(models.LivenessConfig{Method: MethodICMP, Timeout: time.Second, Concurrency: 2}, localSvc, testLogger())

	hosts := []models.Host{
		models.MustParseHost("root@a"),
		models.MustParseHost("root@down"),
		models.MustParseHost("root@b"),
		models.MustParseHost("root@c"),
		models.MustParseHost("deploy@down:2222"),
	}

	results := svc.Probe(context.Background(), hosts)

	assert.Equal(t, map[string]bool{
		"root@a:22":        true,
		"root@down:22":     false,
		"root@b:22":        true,
		"root@c:22":        true,
		"deploy@down:2222": false,
	}, results)
	assert.LessOrEqual(t, localSvc.maxSeen.Load(), int32(2))
}

func TestProbe_Empty(t *testing.T) {
	svc := New(models.LivenessConfig{}, &mockLocal{}, testLogger())

	assert.Empty(t, svc.Probe(context.Background(), nil))
}
