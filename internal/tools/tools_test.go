package tools

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/jarvis/internal/observe"
	"github.com/MrWong99/jarvis/pkg/provider/s2s"
)

func newTestDispatcher(t *testing.T, tools ...Tool) (*Dispatcher, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return New(tools, WithMetrics(m)), reader
}

// echoTool returns a tool that succeeds with its name as status after delay.
func echoTool(name string, delay time.Duration) Tool {
	return Tool{
		Definition: s2s.ToolDefinition{Name: name},
		Handler: func(ctx context.Context, _ map[string]any) (Result, error) {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return Result{}, ctx.Err()
			}
			return Result{Success: true, Status: name}, nil
		},
	}
}

func TestDefinitions_RegistrationOrder(t *testing.T) {
	t.Parallel()

	d, _ := newTestDispatcher(t, echoTool("b", 0), echoTool("a", 0), echoTool("b", 0))
	defs := d.Definitions()
	if len(defs) != 2 || defs[0].Name != "b" || defs[1].Name != "a" {
		t.Errorf("Definitions = %+v, want [b a]", defs)
	}
}

func TestDispatch_PreservesCallOrder(t *testing.T) {
	t.Parallel()

	d, _ := newTestDispatcher(t,
		echoTool("slow", 40*time.Millisecond),
		echoTool("fast", 0),
	)
	got := d.Dispatch(context.Background(), []s2s.ToolCall{
		{ID: "1", Name: "slow"},
		{ID: "2", Name: "fast"},
		{ID: "3", Name: "slow"},
	})

	want := []string{"1", "2", "3"}
	if len(got) != len(want) {
		t.Fatalf("responses = %d, want %d", len(got), len(want))
	}
	for i, r := range got {
		if r.ID != want[i] {
			t.Errorf("response %d ID = %q, want %q", i, r.ID, want[i])
		}
		if !r.Result.Success || r.Result.Status != r.Name {
			t.Errorf("response %d = %+v", i, r)
		}
	}
}

func TestDispatch_RunsConcurrently(t *testing.T) {
	t.Parallel()

	d, _ := newTestDispatcher(t, echoTool("wait", 100*time.Millisecond))
	calls := make([]s2s.ToolCall, 5)
	for i := range calls {
		calls[i] = s2s.ToolCall{ID: string(rune('a' + i)), Name: "wait"}
	}

	start := time.Now()
	got := d.Dispatch(context.Background(), calls)
	if len(got) != 5 {
		t.Fatalf("responses = %d, want 5", len(got))
	}
	if elapsed := time.Since(start); elapsed > 400*time.Millisecond {
		t.Errorf("batch took %v; calls did not run concurrently", elapsed)
	}
}

func TestDispatch_UnknownToolIgnored(t *testing.T) {
	t.Parallel()

	d, _ := newTestDispatcher(t, echoTool("known", 0))

	tests := []struct {
		name  string
		calls []s2s.ToolCall
		want  []string
	}{
		{
			name:  "only unknown",
			calls: []s2s.ToolCall{{ID: "x", Name: "launch_rockets"}},
		},
		{
			name: "mixed",
			calls: []s2s.ToolCall{
				{ID: "1", Name: "launch_rockets"},
				{ID: "2", Name: "known"},
				{ID: "3", Name: "other"},
			},
			want: []string{"2"},
		},
		{
			name: "empty batch",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := d.Dispatch(context.Background(), tc.calls)
			if len(got) != len(tc.want) {
				t.Fatalf("responses = %+v, want IDs %v", got, tc.want)
			}
			for i := range got {
				if got[i].ID != tc.want[i] {
					t.Errorf("response %d ID = %q, want %q", i, got[i].ID, tc.want[i])
				}
			}
		})
	}
}

func TestDispatch_HandlerErrorContained(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	d, _ := newTestDispatcher(t,
		Tool{
			Definition: s2s.ToolDefinition{Name: "broken"},
			Handler: func(context.Context, map[string]any) (Result, error) {
				return Result{}, boom
			},
		},
		Tool{
			Definition: s2s.ToolDefinition{Name: "panics"},
			Handler: func(context.Context, map[string]any) (Result, error) {
				panic("kaboom")
			},
		},
		echoTool("ok", 0),
	)

	got := d.Dispatch(context.Background(), []s2s.ToolCall{
		{ID: "1", Name: "broken"},
		{ID: "2", Name: "panics"},
		{ID: "3", Name: "ok"},
	})
	if len(got) != 3 {
		t.Fatalf("responses = %d, want 3", len(got))
	}
	if got[0].Result.Success || !strings.Contains(got[0].Result.Error, "boom") {
		t.Errorf("broken result = %+v", got[0].Result)
	}
	if got[1].Result.Success || !strings.Contains(got[1].Result.Error, "kaboom") {
		t.Errorf("panicking result = %+v", got[1].Result)
	}
	if !got[2].Result.Success {
		t.Errorf("healthy tool failed: %+v", got[2].Result)
	}
}

func TestDispatch_NilArgsBecomeEmptyMap(t *testing.T) {
	t.Parallel()

	var sawNil bool
	d, _ := newTestDispatcher(t, Tool{
		Definition: s2s.ToolDefinition{Name: "args"},
		Handler: func(_ context.Context, args map[string]any) (Result, error) {
			sawNil = args == nil
			_, _ = args["missing"].(string)
			return Result{Success: true}, nil
		},
	})
	d.Dispatch(context.Background(), []s2s.ToolCall{{ID: "1", Name: "args"}})
	if sawNil {
		t.Error("handler received nil args")
	}
}

func TestDispatch_Timeout(t *testing.T) {
	t.Parallel()

	slow := echoTool("slow", time.Minute)
	slow.Timeout = 20 * time.Millisecond
	d, _ := newTestDispatcher(t, slow)

	got := d.Dispatch(context.Background(), []s2s.ToolCall{{ID: "1", Name: "slow"}})
	if got[0].Result.Success || !strings.Contains(got[0].Result.Error, "deadline exceeded") {
		t.Errorf("Result = %+v, want deadline failure", got[0].Result)
	}
}

func TestDispatch_RecordsMetrics(t *testing.T) {
	t.Parallel()

	d, reader := newTestDispatcher(t, echoTool("ok", 0))
	d.Dispatch(context.Background(), []s2s.ToolCall{{ID: "1", Name: "ok"}, {ID: "2", Name: "ok"}})

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var calls int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "jarvis.tool.calls" {
				continue
			}
			for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
				calls += dp.Value
			}
		}
	}
	if calls != 2 {
		t.Errorf("jarvis.tool.calls = %d, want 2", calls)
	}
}

func TestDispatch_HandlersSeeSession(t *testing.T) {
	t.Parallel()

	var seen string
	d, _ := newTestDispatcher(t, Tool{
		Definition: s2s.ToolDefinition{Name: "who"},
		Handler: func(ctx context.Context, _ map[string]any) (Result, error) {
			seen = observe.SessionFromContext(ctx)
			return Result{Success: true}, nil
		},
	})
	ctx := observe.WithSession(context.Background(), "session-9")
	d.Dispatch(ctx, []s2s.ToolCall{{ID: "1", Name: "who"}})
	if seen != "session-9" {
		t.Errorf("handler session = %q, want %q", seen, "session-9")
	}
}
