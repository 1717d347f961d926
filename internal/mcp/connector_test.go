package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// fakeTransport scripts connection and call outcomes.
type fakeTransport struct {
	mu          sync.Mutex
	connectErr  error
	connectWait time.Duration
	connected   bool
	tools       []OperationSchema
	listErr     error
	callErr     error
	callResult  json.RawMessage
	calls       []string
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	if f.connectWait > 0 {
		select {
		case <-time.After(f.connectWait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if f.connectErr != nil {
		return f.connectErr
	}
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) ListTools(ctx context.Context) ([]OperationSchema, error) {
	return f.tools, f.listErr
}

func (f *fakeTransport) CallTool(ctx context.Context, name string, args map[string]any) (json.RawMessage, error) {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()
	if f.callErr != nil {
		return nil, f.callErr
	}
	return f.callResult, nil
}

func (f *fakeTransport) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	return nil
}

func TestConnector_ConcurrentConnectSharesOneAttempt(t *testing.T) {
	defer goleak.VerifyNone(t)

	var created atomic.Int32
	c := NewConnector("", WithTransportFactory(func() Transport {
		created.Add(1)
		return &fakeTransport{connectWait: 50 * time.Millisecond}
	}))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Connect(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), created.Load(), "concurrent callers must share one establishment")
	assert.Equal(t, StateReady, c.State())
}

func TestConnector_FailedConnectRetriesFromScratch(t *testing.T) {
	attempts := 0
	c := NewConnector("", WithTransportFactory(func() Transport {
		attempts++
		if attempts == 1 {
			return &fakeTransport{connectErr: fmt.Errorf("%w: spawn failed", ErrTransportUnavailable)}
		}
		return &fakeTransport{}
	}))

	_, err := c.Connect(context.Background())
	require.ErrorIs(t, err, ErrTransportUnavailable)
	assert.Equal(t, StateFailed, c.State())

	_, err = c.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateReady, c.State())
	assert.Equal(t, 2, attempts)
}

func TestConnector_ConnectIsIdempotent(t *testing.T) {
	var created atomic.Int32
	c := NewConnector("", WithTransportFactory(func() Transport {
		created.Add(1)
		return &fakeTransport{}
	}))

	for i := 0; i < 3; i++ {
		_, err := c.Connect(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), created.Load())
}

func TestConnector_ListOperationsBestEffort(t *testing.T) {
	c := NewConnector("", WithTransportFactory(func() Transport {
		return &fakeTransport{listErr: errors.New("catalog exploded")}
	}))
	assert.Empty(t, c.ListOperations(context.Background()))

	c2 := NewConnector("", WithTransportFactory(func() Transport {
		return &fakeTransport{tools: []OperationSchema{{Name: "run_report"}, {Name: "get_account_summaries"}}}
	}))
	assert.Equal(t, []string{"run_report", "get_account_summaries"}, c2.ListOperations(context.Background()))
}

func TestConnector_ListOperationsEmptyWhenUnreachable(t *testing.T) {
	c := NewConnector("", WithTransportFactory(func() Transport {
		return &fakeTransport{connectErr: fmt.Errorf("%w: no binary", ErrTransportUnavailable)}
	}))
	assert.Empty(t, c.ListOperations(context.Background()))
}

func TestConnector_InvokePropagatesTypedErrors(t *testing.T) {
	c := NewConnector("", WithTransportFactory(func() Transport {
		return &fakeTransport{callErr: fmt.Errorf("%w: run_report", ErrOperationNotFound)}
	}))
	_, err := c.Invoke(context.Background(), "run_report", nil)
	assert.ErrorIs(t, err, ErrOperationNotFound)
}

func TestConnector_InvokeReturnsPayload(t *testing.T) {
	raw := json.RawMessage(`{"rows":[]}`)
	ft := &fakeTransport{callResult: raw}
	c := NewConnector("", WithTransportFactory(func() Transport { return ft }))

	out, err := c.Invoke(context.Background(), "run_report", map[string]any{"propertyId": "123456789"})
	require.NoError(t, err)
	assert.Equal(t, raw, out)
	assert.Equal(t, []string{"run_report"}, ft.calls)
}

func TestConnector_CloseResetsState(t *testing.T) {
	c := NewConnector("", WithTransportFactory(func() Transport { return &fakeTransport{} }))
	_, err := c.Connect(context.Background())
	require.NoError(t, err)
	require.NoError(t, c.Close())
	assert.Equal(t, StateUnconnected, c.State())
}
