package authz

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"stream-orchestrator/constant"
	"stream-orchestrator/dto"
	"stream-orchestrator/entities"
	"stream-orchestrator/repository"
)

func TestCanPerform(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	session := &entities.StreamSession{
		Title:      "Town hall",
		CreatedBy:  "creator",
		Visibility: entities.Visibility{IsVisible: true, IsPublic: true},
	}
	require.NoError(t, store.CreateSession(ctx, session))
	a := NewStoreAuthorizer(store)

	cases := []struct {
		name   string
		actor  dto.Actor
		action constant.Action
		want   bool
	}{
		{"admin edits", dto.Actor{ID: "root", Role: constant.RoleAdmin}, constant.ActionEdit, true},
		{"operator edits", dto.Actor{ID: "op", Role: constant.RoleOperator}, constant.ActionEdit, true},
		{"creator reads", dto.Actor{ID: "creator", Role: constant.RoleViewer}, constant.ActionRead, true},
		{"creator edits", dto.Actor{ID: "creator", Role: constant.RoleViewer}, constant.ActionEdit, true},
		{"public session still hidden from strangers", dto.Actor{ID: "other", Role: constant.RoleViewer}, constant.ActionRead, false},
		{"anonymous", dto.Actor{Role: constant.RoleAdmin}, constant.ActionRead, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ok, err := a.CanPerform(ctx, tc.actor, session.ID, tc.action)
			require.NoError(t, err)
			assert.Equal(t, tc.want, ok)
		})
	}
}

func TestCanPerformUnknownSession(t *testing.T) {
	a := NewStoreAuthorizer(repository.NewMemoryStore())

	_, err := a.CanPerform(context.Background(), dto.Actor{ID: "x", Role: constant.RoleViewer}, uuid.New(), constant.ActionRead)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	ok, err := a.CanPerform(context.Background(), dto.Actor{ID: "x", Role: constant.RoleOperator}, uuid.New(), constant.ActionRead)
	require.NoError(t, err)
	assert.True(t, ok)
}
