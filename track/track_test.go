package track

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func reversibleSpec(name string, log *[]string) *Spec {
	return &Spec{
		Name:        name,
		Description: "test tool",
		Forward: func(ctx context.Context, args map[string]any) (any, error) {
			*log = append(*log, "forward:"+name)
			return map[string]any{"tool": name}, nil
		},
		Reverse: func(ctx context.Context, args map[string]any, result any) error {
			*log = append(*log, "reverse:"+name)
			return nil
		},
	}
}

func TestSpec_Validation(t *testing.T) {
	tests := []struct {
		name      string
		spec      Spec
		wantError bool
	}{
		{
			name: "valid reversible tool",
			spec: Spec{
				Name:    "mark",
				Forward: func(ctx context.Context, args map[string]any) (any, error) { return nil, nil },
				Reverse: func(ctx context.Context, args map[string]any, result any) error { return nil },
			},
			wantError: false,
		},
		{
			name: "missing reverse handler",
			spec: Spec{
				Name:    "mark",
				Forward: func(ctx context.Context, args map[string]any) (any, error) { return nil, nil },
			},
			wantError: true,
		},
		{
			name: "checkpoint tool without reverse",
			spec: Spec{
				Name:    ToolCreateCheckpoint,
				Forward: func(ctx context.Context, args map[string]any) (any, error) { return nil, nil },
			},
			wantError: false,
		},
		{
			name: "missing name",
			spec: Spec{
				Forward: func(ctx context.Context, args map[string]any) (any, error) { return nil, nil },
			},
			wantError: true,
		},
		{
			name:      "missing forward handler",
			spec:      Spec{Name: "mark"},
			wantError: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			if tt.wantError {
				require.ErrorIs(t, err, ErrInvalidRegistration)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestRegistry_ExecuteRecords(t *testing.T) {
	ctx := context.Background()
	registry := NewRegistry()
	var log []string
	require.NoError(t, registry.Register(reversibleSpec("alpha", &log)))

	result, err := registry.Execute(ctx, "alpha", map[string]any{"k": "v"})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"tool": "alpha"}, result)
	require.Equal(t, 1, registry.Len())

	records := registry.Track()
	require.Len(t, records, 1)
	require.Equal(t, "alpha", records[0].ToolName)
	require.True(t, records[0].Success)
	require.Equal(t, map[string]any{"k": "v"}, records[0].Args)
}

func TestRegistry_ExecuteUnknownTool(t *testing.T) {
	registry := NewRegistry()
	_, err := registry.Execute(context.Background(), "nope", nil)
	require.ErrorIs(t, err, ErrUnknownTool)
	require.Equal(t, 0, registry.Len())
}

func TestRegistry_FailedForwardIsRecorded(t *testing.T) {
	ctx := context.Background()
	registry := NewRegistry()
	require.NoError(t, registry.Register(&Spec{
		Name: "boom",
		Forward: func(ctx context.Context, args map[string]any) (any, error) {
			return nil, errors.New("kaput")
		},
		Reverse: func(ctx context.Context, args map[string]any, result any) error {
			t.Fatal("reverse must not run for failed forwards")
			return nil
		},
	}))

	_, err := registry.Execute(ctx, "boom", nil)
	require.Error(t, err)
	require.Equal(t, 1, registry.Len())

	records := registry.Track()
	require.False(t, records[0].Success)
	require.Equal(t, "kaput", records[0].ErrorMessage)
	require.Nil(t, records[0].Result)

	// Rolling back skips the failed record entirely.
	outcomes, err := registry.RollbackFrom(ctx, 0)
	require.NoError(t, err)
	require.Empty(t, outcomes)
	require.Equal(t, 0, registry.Len())
}

func TestRegistry_RollbackReverseOrder(t *testing.T) {
	ctx := context.Background()
	registry := NewRegistry()
	var log []string
	require.NoError(t, registry.Register(reversibleSpec("first", &log)))
	require.NoError(t, registry.Register(reversibleSpec("second", &log)))
	require.NoError(t, registry.Register(reversibleSpec("third", &log)))

	for _, name := range []string{"first", "second", "third"} {
		_, err := registry.Execute(ctx, name, nil)
		require.NoError(t, err)
	}
	log = nil

	outcomes, err := registry.RollbackFrom(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, []string{"reverse:third", "reverse:second", "reverse:first"}, log)
	require.Len(t, outcomes, 3)
	for _, outcome := range outcomes {
		require.True(t, outcome.Reversed)
	}
	require.Equal(t, 0, registry.Len())
}

func TestRegistry_RollbackPartial(t *testing.T) {
	ctx := context.Background()
	registry := NewRegistry()
	var log []string
	require.NoError(t, registry.Register(reversibleSpec("keep", &log)))
	require.NoError(t, registry.Register(reversibleSpec("drop", &log)))

	_, err := registry.Execute(ctx, "keep", nil)
	require.NoError(t, err)
	_, err = registry.Execute(ctx, "drop", nil)
	require.NoError(t, err)
	log = nil

	outcomes, err := registry.RollbackFrom(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, []string{"reverse:drop"}, log)
	require.Len(t, outcomes, 1)
	require.Equal(t, 1, registry.Len())
	require.Equal(t, "keep", registry.Track()[0].ToolName)
}

func TestRegistry_RollbackSkipsCheckpointTools(t *testing.T) {
	ctx := context.Background()
	registry := NewRegistry()
	var log []string
	require.NoError(t, registry.Register(reversibleSpec("worker", &log)))
	require.NoError(t, registry.Register(&Spec{
		Name:    ToolCreateCheckpoint,
		Forward: func(ctx context.Context, args map[string]any) (any, error) { return "cp", nil },
	}))

	_, err := registry.Execute(ctx, "worker", nil)
	require.NoError(t, err)
	_, err = registry.Execute(ctx, ToolCreateCheckpoint, nil)
	require.NoError(t, err)
	require.Equal(t, 2, registry.Len())
	log = nil

	outcomes, err := registry.RollbackFrom(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, []string{"reverse:worker"}, log)
	require.Len(t, outcomes, 1)
	require.Equal(t, 0, registry.Len())
}

func TestRegistry_RollbackCollectsFailures(t *testing.T) {
	ctx := context.Background()
	registry := NewRegistry()
	for _, name := range []string{"bad1", "bad2"} {
		name := name
		require.NoError(t, registry.Register(&Spec{
			Name:    name,
			Forward: func(ctx context.Context, args map[string]any) (any, error) { return nil, nil },
			Reverse: func(ctx context.Context, args map[string]any, result any) error {
				return fmt.Errorf("%s cannot be undone", name)
			},
		}))
		_, err := registry.Execute(ctx, name, nil)
		require.NoError(t, err)
	}

	outcomes, err := registry.RollbackFrom(ctx, 0)
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	for _, outcome := range outcomes {
		require.False(t, outcome.Reversed)
		require.Contains(t, outcome.ErrorMessage, "cannot be undone")
	}
	// The track still truncates; the logical rollback proceeds.
	require.Equal(t, 0, registry.Len())
}

func TestRegistry_RollbackIndexBeyondTrack(t *testing.T) {
	registry := NewRegistry()
	_, err := registry.RollbackFrom(context.Background(), 3)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestRegistry_Redo(t *testing.T) {
	ctx := context.Background()
	registry := NewRegistry()
	var log []string
	require.NoError(t, registry.Register(reversibleSpec("alpha", &log)))
	require.NoError(t, registry.Register(reversibleSpec("beta", &log)))

	_, err := registry.Execute(ctx, "alpha", nil)
	require.NoError(t, err)
	_, err = registry.Execute(ctx, "beta", nil)
	require.NoError(t, err)
	log = nil

	replayed := registry.Redo(ctx)
	require.Len(t, replayed, 2)
	require.Equal(t, []string{"forward:alpha", "forward:beta"}, log)
	// Redo appends; prior records are retained.
	require.Equal(t, 4, registry.Len())
}

func TestRegistry_SeedReplacesTrack(t *testing.T) {
	registry := NewRegistry()
	registry.Seed([]*Record{
		{ToolName: "alpha", Success: true},
		{ToolName: "beta", Success: true},
	})
	require.Equal(t, 2, registry.Len())

	registry.Seed(nil)
	require.Equal(t, 0, registry.Len())
}

func TestRegistry_ReRegistrationReplaces(t *testing.T) {
	ctx := context.Background()
	registry := NewRegistry()
	var log []string
	require.NoError(t, registry.Register(reversibleSpec("alpha", &log)))
	require.NoError(t, registry.Register(&Spec{
		Name:    "alpha",
		Forward: func(ctx context.Context, args map[string]any) (any, error) { return "v2", nil },
		Reverse: func(ctx context.Context, args map[string]any, result any) error { return nil },
	}))

	result, err := registry.Execute(ctx, "alpha", nil)
	require.NoError(t, err)
	require.Equal(t, "v2", result)
	require.Len(t, registry.Specs(), 1)
}
