package service

import (
	"cmp"
	"context"
	"encoding/json"
	"log"
	"slices"
	"time"

	"github.com/zlnvch/fluxcanvas/apperror"
	"github.com/zlnvch/fluxcanvas/models"
)

const (
	HeartbeatInterval = 5 * time.Second
	// A record stays live for two heartbeat periods, so one missed beat is tolerated.
	PresenceTimeout = 2 * HeartbeatInterval
)

func IsActive(p models.Presence, now time.Time) bool {
	return now.Sub(p.LastActive) < PresenceTimeout
}

// Join writes the user's presence record after checking the gate.
func (s *Service) Join(ctx context.Context, user models.User, canvasId string) ([]models.Presence, error) {
	canvas, err := s.loadCanvas(ctx, canvasId)
	if err != nil {
		return nil, err
	}
	if AccessDecision(canvas, user.Id) == AccessLocked {
		return nil, apperror.PermissionDenied("canvas is locked")
	}

	if err := s.writePresence(ctx, user, canvasId, ""); err != nil {
		return nil, err
	}

	collaborators, err := s.ActiveCollaborators(ctx, canvasId)
	if err != nil {
		return nil, err
	}
	s.publish(canvasId, EventPresenceUpdated, PresenceUpdatedData{Collaborators: collaborators})
	return collaborators, nil
}

// Heartbeat refreshes the user's own record. Only the owner ever writes it.
func (s *Service) Heartbeat(ctx context.Context, user models.User, canvasId string, selectedLayerId string) error {
	if err := s.writePresence(ctx, user, canvasId, selectedLayerId); err != nil {
		return err
	}
	s.publishPresence(ctx, canvasId)
	return nil
}

func (s *Service) Leave(ctx context.Context, user models.User, canvasId string) error {
	err := withRetry(ctx, "remove presence", func() error {
		return s.Cache.RemovePresence(ctx, canvasId, user.Id)
	})
	if err != nil {
		return err
	}
	s.publishPresence(ctx, canvasId)
	return nil
}

// ActiveCollaborators folds the live presence records of a canvas, ordered by username.
func (s *Service) ActiveCollaborators(ctx context.Context, canvasId string) ([]models.Presence, error) {
	now := s.now()

	var records [][]byte
	err := withRetry(ctx, "get presence", func() error {
		var err error
		records, err = s.Cache.GetPresence(ctx, canvasId, now.Add(-PresenceTimeout))
		return err
	})
	if err != nil {
		return nil, err
	}

	collaborators := make([]models.Presence, 0, len(records))
	for _, record := range records {
		var p models.Presence
		if err := json.Unmarshal(record, &p); err != nil {
			log.Printf("Skipping malformed presence record on canvas %s: %v", canvasId, err)
			continue
		}
		if !IsActive(p, now) {
			continue
		}
		collaborators = append(collaborators, p)
	}

	slices.SortFunc(collaborators, func(a, b models.Presence) int {
		if c := cmp.Compare(a.Username, b.Username); c != 0 {
			return c
		}
		return cmp.Compare(a.UserId, b.UserId)
	})
	return collaborators, nil
}

// ActiveCounts returns the live collaborator count of each canvas, for badges.
func (s *Service) ActiveCounts(ctx context.Context, canvasIds []string) (map[string]int64, error) {
	if len(canvasIds) > maxDiscoverLimit {
		return nil, apperror.ValidationFailed("canvasIds", "too many canvases")
	}

	var counts map[string]int64
	err := withRetry(ctx, "count presence", func() error {
		var err error
		counts, err = s.Cache.ActiveCounts(ctx, canvasIds, s.now().Add(-PresenceTimeout))
		return err
	})
	return counts, err
}

func (s *Service) writePresence(ctx context.Context, user models.User, canvasId string, selectedLayerId string) error {
	p := models.Presence{
		CanvasId:        canvasId,
		UserId:          user.Id,
		Username:        user.Username,
		SelectedLayerId: selectedLayerId,
		LastActive:      s.now(),
	}
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}

	return withRetry(ctx, "set presence", func() error {
		return s.Cache.SetPresence(ctx, canvasId, user.Id, p.LastActive, data)
	})
}

func (s *Service) publishPresence(ctx context.Context, canvasId string) {
	collaborators, err := s.ActiveCollaborators(ctx, canvasId)
	if err != nil {
		log.Printf("Failed to read presence for canvas %s: %v", canvasId, err)
		return
	}
	s.publish(canvasId, EventPresenceUpdated, PresenceUpdatedData{Collaborators: collaborators})
}
