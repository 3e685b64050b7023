package context_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	appctx "github.com/Ramsey-B/fern/pkg/context"
)

func TestLogFields(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, appctx.LogFields(ctx))

	ctx = appctx.SetRunID(ctx, "run-1")
	ctx = appctx.SetTrigger(ctx, "manual")
	ctx = appctx.SetDestinationID(ctx, "sheet-1")

	fields := appctx.LogFields(ctx)
	assert.Equal(t, "run-1", fields["run_id"])
	assert.Equal(t, "manual", fields["trigger"])
	assert.Equal(t, "sheet-1", fields["destination_id"])
	assert.NotContains(t, fields, "request_id")
}

func TestGettersOnEmptyContext(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, "", appctx.GetRunID(ctx))
	assert.Equal(t, "", appctx.GetRequestID(ctx))
	assert.Equal(t, "", appctx.GetDestinationID(ctx))
}
