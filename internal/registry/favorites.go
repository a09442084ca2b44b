package registry

import (
	"context"

	"managervnc/internal/apperr"
	"managervnc/internal/policy"
)

// ToggleFavorite flips a's favorite mark on machine id and returns the new
// membership. Reading the machine is enough; editing is not required.
func (s *Service) ToggleFavorite(ctx context.Context, a policy.Actor, id string) (bool, error) {
	fav, ok, err := s.DB.ToggleFavorite(ctx, a.ID, id, s.Policy.ReadScope(a))
	if err != nil {
		return false, apperr.Internal(err)
	}
	if !ok {
		return false, s.classifyMiss(ctx, a, id, s.Policy.Read)
	}
	return fav, nil
}

// ListFavorites returns a's favorited machines, most recently marked first.
func (s *Service) ListFavorites(ctx context.Context, a policy.Actor) ([]Machine, error) {
	ms, err := s.DB.ListFavorites(ctx, a.ID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return s.toMachines(ms)
}
