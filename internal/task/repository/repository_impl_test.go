package repository_test

import (
	"context"
	"testing"

	"github.com/stackin/escrow/internal/task/domain"
	"github.com/stackin/escrow/internal/task/repository"
	"github.com/stackin/escrow/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectoryGet(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	node := testutil.NewNode(t)

	taskID, clientID, workerID := node.Generate(), node.Generate(), node.Generate()
	testutil.SeedTask(t, db, testutil.TaskRow{ID: taskID, ClientID: clientID, WorkerID: &workerID, Title: "Fix sink", Status: "in_progress"})

	dir := repository.Provide()
	task, err := dir.Get(ctx, db, taskID)
	require.NoError(t, err)
	assert.Equal(t, clientID, task.ClientID)
	require.NotNil(t, task.WorkerID)
	assert.Equal(t, workerID, *task.WorkerID)
	assert.Equal(t, domain.StatusInProgress, task.Status)
	assert.True(t, task.Status.Payable())

	_, err = dir.Get(ctx, db, node.Generate())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStatusPayable(t *testing.T) {
	assert.False(t, domain.StatusDraft.Payable())
	assert.False(t, domain.StatusExpired.Payable())
	assert.False(t, domain.Status("archived").Payable())
	assert.True(t, domain.StatusPosted.Payable())
}
