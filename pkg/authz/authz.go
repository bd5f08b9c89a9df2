// Package authz decides whether an actor may read or edit a stream session.
//
// Admins and operators may do anything; otherwise only the session's
// creator is allowed. Credentials are served on read, so public visibility
// deliberately grants nothing here.
package authz

import (
	"context"

	"github.com/google/uuid"
	"stream-orchestrator/constant"
	"stream-orchestrator/dto"
	"stream-orchestrator/repository"
)

type StoreAuthorizer struct {
	store repository.SessionStore
}

func NewStoreAuthorizer(store repository.SessionStore) *StoreAuthorizer {
	return &StoreAuthorizer{store: store}
}

func (a *StoreAuthorizer) CanPerform(ctx context.Context, actor dto.Actor, sessionID uuid.UUID, action constant.Action) (bool, error) {
	if actor.ID == "" {
		return false, nil
	}
	switch actor.Role {
	case constant.RoleAdmin, constant.RoleOperator:
		return true, nil
	}
	if action != constant.ActionRead && action != constant.ActionEdit {
		return false, nil
	}
	session, err := a.store.GetSession(ctx, sessionID)
	if err != nil {
		return false, err
	}
	return session.CreatedBy == actor.ID, nil
}
