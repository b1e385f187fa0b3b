package expression_test

import (
	"testing"

	"github.com/open-xiv/memo-uploader/pkg/memo/duty"
	"github.com/open-xiv/memo-uploader/pkg/memo/internal/expression"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vars(m map[string]duty.Value) expression.Lookup {
	return func(name string) (duty.Value, bool) {
		v, ok := m[name]
		return v, ok
	}
}

func TestEvaluate_Tolerance(t *testing.T) {
	t.Parallel()

	assert.True(t, expression.Evaluate("variables.x == 3", vars(map[string]duty.Value{"x": duty.Float(3.04)})))
	assert.False(t, expression.Evaluate("variables.x == 3", vars(map[string]duty.Value{"x": duty.Float(3.10)})))
	assert.True(t, expression.Evaluate("variables.x != 3", vars(map[string]duty.Value{"x": duty.Float(3.10)})))
	assert.False(t, expression.Evaluate("variables.x != 3", vars(map[string]duty.Value{"x": duty.Float(2.97)})))
}

func TestEvaluate_Operators(t *testing.T) {
	t.Parallel()

	lookup := vars(map[string]duty.Value{
		"count": duty.Int(4),
		"ratio": duty.Float(0.25),
	})

	tests := []struct {
		expr string
		want bool
	}{
		{"variables.count == 4", true},
		{"variables.count > 3", true},
		{"variables.count > 4", false},
		{"variables.count >= 4", true},
		{"variables.count < 4", false},
		{"variables.count <= 4", true},
		{"variables.count != 5", true},
		{"variables.ratio < .5", true},
		{"variables.ratio >= -1", true},
		{"variables.ratio == 2.5e-1", true},
	}

	for _, tc := range tests {
		t.Run(tc.expr, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, expression.Evaluate(tc.expr, lookup))
		})
	}
}

func TestEvaluate_MalformedIsFalse(t *testing.T) {
	t.Parallel()

	lookup := vars(map[string]duty.Value{
		"x":    duty.Int(1),
		"flag": duty.Bool(true),
		"name": duty.String("1"),
	})

	for _, expr := range []string{
		"",
		"variables.x",
		"variables.x == ",
		"variables.x==1",
		"variables.x == 1 extra",
		"vars.x == 1",
		"x == 1",
		"variables.missing == 1",
		"variables.flag == 1",
		"variables.name == 1",
		"variables.x == true",
		"variables.x => 1",
		"variables.x = 1",
		"variables.x == abc",
	} {
		assert.False(t, expression.Evaluate(expr, lookup), "%q", expr)
	}
}

func TestParse(t *testing.T) {
	t.Parallel()

	c, err := expression.Parse("variables.towers_done >= 2")
	require.NoError(t, err)
	assert.Equal(t, "towers_done", c.Variable)
	assert.Equal(t, ">=", c.Op)
	assert.InDelta(t, 2.0, c.Literal, 0)

	_, err = expression.Parse("variables.x ~ 2")
	require.Error(t, err)
}
