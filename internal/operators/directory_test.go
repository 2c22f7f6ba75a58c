package operators

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carpeta/internal/hub"
)

type fakeLister struct {
	calls     atomic.Int32
	operators []hub.Operator
	err       error
}

func (f *fakeLister) GetOperators(context.Context) ([]hub.Operator, hub.Result, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, hub.Result{}, f.err
	}
	return f.operators, hub.Result{Success: true, StatusCode: 200}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDirectory_FiltersUnusableOperators(t *testing.T) {
	lister := &fakeLister{operators: []hub.Operator{
		{ID: "1", Name: "Carpeta Andina", TransferAPIURL: "https://andina.example.com/transfer"},
		{ID: "", Name: "Sin Id", TransferAPIURL: "https://x.example.com"},
		{ID: "3", Name: "", TransferAPIURL: "https://y.example.com"},
		{ID: "4", Name: "Sin Endpoint", TransferAPIURL: ""},
	}}
	d := NewDirectory(lister, nil, "development", false, testLogger())

	ops, err := d.List(context.Background())
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, "1", ops[0].ID)
}

func TestDirectory_RejectsInsecureURLsInProduction(t *testing.T) {
	insecure := []hub.Operator{
		{ID: "1", Name: "Plano", TransferAPIURL: "http://plano.example.com/transfer"},
	}

	t.Run("production drops http", func(t *testing.T) {
		d := NewDirectory(&fakeLister{operators: insecure}, nil, "production", false, testLogger())
		ops, err := d.List(context.Background())
		require.NoError(t, err)
		assert.Empty(t, ops)
	})

	t.Run("development keeps http", func(t *testing.T) {
		d := NewDirectory(&fakeLister{operators: insecure}, nil, "development", false, testLogger())
		ops, err := d.List(context.Background())
		require.NoError(t, err)
		assert.Len(t, ops, 1)
	})

	t.Run("production override keeps http", func(t *testing.T) {
		d := NewDirectory(&fakeLister{operators: insecure}, nil, "production", true, testLogger())
		ops, err := d.List(context.Background())
		require.NoError(t, err)
		assert.Len(t, ops, 1)
	})
}

// blockingLister holds every GetOperators call until released so the
// test can guarantee all List callers overlap.
type blockingLister struct {
	calls   atomic.Int32
	release chan struct{}
}

func (f *blockingLister) GetOperators(context.Context) ([]hub.Operator, hub.Result, error) {
	f.calls.Add(1)
	<-f.release
	return []hub.Operator{
		{ID: "1", Name: "Carpeta Andina", TransferAPIURL: "https://andina.example.com/transfer"},
	}, hub.Result{Success: true, StatusCode: 200}, nil
}

func TestDirectory_ConcurrentListsCollapseToOneHubCall(t *testing.T) {
	lister := &blockingLister{release: make(chan struct{})}
	d := NewDirectory(lister, nil, "development", false, testLogger())

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := d.List(context.Background())
			assert.NoError(t, err)
		}()
	}

	// Give every goroutine time to join the flight, then let the one
	// Hub call finish.
	time.Sleep(100 * time.Millisecond)
	close(lister.release)
	wg.Wait()

	assert.Equal(t, int32(1), lister.calls.Load())
}

func TestDirectory_Lookup(t *testing.T) {
	lister := &fakeLister{operators: []hub.Operator{
		{ID: "1", Name: "Carpeta Andina", TransferAPIURL: "https://andina.example.com/transfer"},
		{ID: "2", Name: "Folder Sur", TransferAPIURL: "https://sur.example.com/transfer"},
	}}
	d := NewDirectory(lister, nil, "development", false, testLogger())

	op, err := d.Lookup(context.Background(), "2")
	require.NoError(t, err)
	assert.Equal(t, "Folder Sur", op.Name)

	_, err = d.Lookup(context.Background(), "99")
	assert.ErrorIs(t, err, ErrUnknownOperator)
}
