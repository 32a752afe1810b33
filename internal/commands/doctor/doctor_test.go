package doctor

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticCheck struct {
	name  string
	items []CheckItem
	runs  int
}

func (c *staticCheck) Name() string { return c.name }

func (c *staticCheck) Run(context.Context) Result {
	c.runs++
	return Result{Name: c.name, Items: c.items}
}

func TestRunAll_SummaryAndFixable(t *testing.T) {
	checks := []Check{
		&staticCheck{name: "a", items: []CheckItem{{Label: "ok", Status: StatusPass}}},
		&staticCheck{name: "b", items: []CheckItem{
			{Label: "idle", Status: StatusWarn, Fixable: true},
			{Label: "broken", Status: StatusFail},
			{Label: "fixed", Status: StatusPass, Fixable: true},
		}},
	}

	results := RunAll(context.Background(), checks)
	require.Len(t, results, 2)

	passed, warned, failed := Summary(results)
	assert.Equal(t, 2, passed)
	assert.Equal(t, 1, warned)
	assert.Equal(t, 1, failed)
	assert.Equal(t, 1, CountFixable(results))
}

func TestRunAll_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	check := &staticCheck{name: "a"}
	results := RunAll(ctx, []Check{check})

	require.Len(t, results, 1)
	assert.Zero(t, check.runs)
	assert.Equal(t, StatusFail, results[0].Items[0].Status)
}

func TestCheckItem_JSONStatus(t *testing.T) {
	data, err := json.Marshal(CheckItem{Label: "x", Status: StatusWarn})
	require.NoError(t, err)
	assert.JSONEq(t, `{"label":"x","status":"warn"}`, string(data))
}
