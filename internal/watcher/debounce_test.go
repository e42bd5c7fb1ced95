package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collector gathers emitted batches for assertions.
type collector struct {
	mu      sync.Mutex
	batches [][]Event
}

func (c *collector) emit(events []Event) {
	c.mu.Lock()
	c.batches = append(c.batches, events)
	c.mu.Unlock()
}

func (c *collector) all() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Event
	for _, b := range c.batches {
		out = append(out, b...)
	}
	return out
}

func TestDebouncer_Coalescing(t *testing.T) {
	tests := []struct {
		name string
		raw  []EventType
		want []EventType // empty means the events cancel out
	}{
		{"create then modify is create", []EventType{Create, Modify}, []EventType{Create}},
		{"create then delete is nothing", []EventType{Create, Delete}, nil},
		{"modify then delete is delete", []EventType{Modify, Delete}, []EventType{Delete}},
		{"delete then create is modify", []EventType{Delete, Create}, []EventType{Modify}},
		{"repeated modify is modify", []EventType{Modify, Modify, Modify}, []EventType{Modify}},
		{"single create passes through", []EventType{Create}, []EventType{Create}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c collector
			d := NewDebouncer(time.Hour, c.emit)
			for _, raw := range tt.raw {
				d.Add("note.md", raw)
			}
			d.Flush()

			got := c.all()
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}
			require.Len(t, got, len(tt.want))
			for i, w := range tt.want {
				assert.Equal(t, w, got[i].Type)
				assert.Equal(t, "note.md", got[i].Path)
			}
		})
	}
}

func TestDebouncer_BatchesSortedByPath(t *testing.T) {
	var c collector
	d := NewDebouncer(time.Hour, c.emit)
	d.Add("zebra.md", Modify)
	d.Add("alpha.md", Create)
	d.Add("mango.md", Delete)
	d.Flush()

	got := c.all()
	require.Len(t, got, 3)
	assert.Equal(t, "alpha.md", got[0].Path)
	assert.Equal(t, "mango.md", got[1].Path)
	assert.Equal(t, "zebra.md", got[2].Path)
}

func TestDebouncer_TimerFlush(t *testing.T) {
	var c collector
	d := NewDebouncer(20*time.Millisecond, c.emit)
	d.Add("note.md", Modify)

	assert.Eventually(t, func() bool {
		return len(c.all()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestDebouncer_StopDropsPending(t *testing.T) {
	var c collector
	d := NewDebouncer(10*time.Millisecond, c.emit)
	d.Add("note.md", Modify)
	d.Stop()

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, c.all())
}

func TestWatcher_DeliversVaultEvents(t *testing.T) {
	vault := t.TempDir()

	var mu sync.Mutex
	var received []Event
	handler := func(ctx context.Context, events []Event) {
		mu.Lock()
		received = append(received, events...)
		mu.Unlock()
	}

	w, err := New(vault, 50*time.Millisecond, handler, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	// Give the watch loop a moment before generating events.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(vault, "new.md"), []byte("# New\n"), 0o644))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, ev := range received {
			if ev.Path == "new.md" && (ev.Type == Create || ev.Type == Modify) {
				return true
			}
		}
		return false
	}, 3*time.Second, 50*time.Millisecond)
}

func TestWatcher_IgnoresNonMarkdown(t *testing.T) {
	vault := t.TempDir()

	var mu sync.Mutex
	var received []Event
	w, err := New(vault, 30*time.Millisecond, func(ctx context.Context, events []Event) {
		mu.Lock()
		received = append(received, events...)
		mu.Unlock()
	}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(vault, "data.json"), []byte("{}"), 0o644))

	time.Sleep(300 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Empty(t, received)
}
