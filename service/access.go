package service

import (
	"context"
	"crypto/rand"
	"log"
	"math/big"
	"strings"
	"time"

	"github.com/zlnvch/fluxcanvas/apperror"
	"github.com/zlnvch/fluxcanvas/models"
)

type AccessState string

const (
	AccessOpen   AccessState = "open"
	AccessLocked AccessState = "locked"
)

// AccessDecision is the gate every read of layers and every mutation passes.
func AccessDecision(canvas models.Canvas, userId string) AccessState {
	if canvas.AccessType == models.AccessPublic {
		return AccessOpen
	}
	if userId != "" && userId == canvas.CreatorId {
		return AccessOpen
	}
	if userId != "" && canvas.IsAllowed(userId) {
		return AccessOpen
	}
	return AccessLocked
}

// LockInfo is what a locked user may see about a canvas.
type LockInfo struct {
	CanvasId        string            `json:"canvasId"`
	CreatorId       string            `json:"creatorId"`
	CreatorUsername string            `json:"creatorUsername"`
	AccessType      models.AccessType `json:"accessType"`
	RequestPending  bool              `json:"requestPending"`
	ExpiresAt       time.Time         `json:"expiresAt"`
}

func lockInfo(canvas models.Canvas, userId string) *LockInfo {
	return &LockInfo{
		CanvasId:        canvas.Id,
		CreatorId:       canvas.CreatorId,
		CreatorUsername: canvas.CreatorUsername,
		AccessType:      canvas.AccessType,
		RequestPending:  canvas.IsPending(userId),
		ExpiresAt:       canvas.ExpiresAt,
	}
}

// RequestAccess queues the user for the creator's approval. Requesting twice is a no-op.
func (s *Service) RequestAccess(ctx context.Context, user models.User, canvasId string) error {
	canvas, err := s.loadCanvas(ctx, canvasId)
	if err != nil {
		return err
	}
	if AccessDecision(canvas, user.Id) == AccessOpen {
		return nil
	}
	if canvas.IsPending(user.Id) {
		return nil
	}

	err = withRetry(ctx, "add pending request", func() error {
		return s.Store.AddPendingRequest(ctx, canvasId, user.Id)
	})
	if err != nil {
		return mapStoreError(err, "canvas", canvasId)
	}

	s.notify(ctx, models.NotificationEvent{
		Type:       models.NotificationAccessRequested,
		FromUserId: user.Id,
		ToUserId:   canvas.CreatorId,
		CanvasId:   canvasId,
	})
	return nil
}

// RedeemInviteCode grants membership when code matches the canvas invite code,
// ignoring case. No creator action is involved.
func (s *Service) RedeemInviteCode(ctx context.Context, user models.User, canvasId string, code string) error {
	canvas, err := s.loadCanvas(ctx, canvasId)
	if err != nil {
		return err
	}
	if AccessDecision(canvas, user.Id) == AccessOpen {
		return nil
	}
	if !inviteCodeMatches(canvas.InviteCode, code) {
		return apperror.InvalidInviteCode()
	}

	err = withRetry(ctx, "grant membership", func() error {
		return s.Store.GrantMembership(ctx, canvasId, user.Id)
	})
	if err != nil {
		return mapStoreError(err, "canvas", canvasId)
	}

	s.notify(ctx, models.NotificationEvent{
		Type:       models.NotificationMemberJoined,
		FromUserId: user.Id,
		ToUserId:   canvas.CreatorId,
		CanvasId:   canvasId,
	})
	s.publishCanvasUpdated(ctx, canvasId)
	return nil
}

func inviteCodeMatches(expected, given string) bool {
	if expected == "" {
		return false
	}
	return len(expected) == len(given) && strings.EqualFold(expected, given)
}

// ApproveRequest moves a pending requester into the allowed users.
func (s *Service) ApproveRequest(ctx context.Context, creator models.User, canvasId string, requesterId string) error {
	canvas, err := s.loadCanvas(ctx, canvasId)
	if err != nil {
		return err
	}
	if canvas.CreatorId != creator.Id {
		return apperror.PermissionDenied("only the creator can approve access requests")
	}
	if !canvas.IsPending(requesterId) {
		return apperror.NotFound("access request", requesterId)
	}

	err = withRetry(ctx, "grant membership", func() error {
		return s.Store.GrantMembership(ctx, canvasId, requesterId)
	})
	if err != nil {
		return mapStoreError(err, "canvas", canvasId)
	}

	s.notify(ctx, models.NotificationEvent{
		Type:       models.NotificationAccessApproved,
		FromUserId: creator.Id,
		ToUserId:   requesterId,
		CanvasId:   canvasId,
	})
	s.publishCanvasUpdated(ctx, canvasId)
	return nil
}

// DenyRequest drops a pending request without granting anything.
func (s *Service) DenyRequest(ctx context.Context, creator models.User, canvasId string, requesterId string) error {
	canvas, err := s.loadCanvas(ctx, canvasId)
	if err != nil {
		return err
	}
	if canvas.CreatorId != creator.Id {
		return apperror.PermissionDenied("only the creator can deny access requests")
	}
	if !canvas.IsPending(requesterId) {
		return apperror.NotFound("access request", requesterId)
	}

	err = withRetry(ctx, "remove pending request", func() error {
		return s.Store.RemovePendingRequest(ctx, canvasId, requesterId)
	})
	if err != nil {
		return mapStoreError(err, "canvas", canvasId)
	}

	s.notify(ctx, models.NotificationEvent{
		Type:       models.NotificationAccessDenied,
		FromUserId: creator.Id,
		ToUserId:   requesterId,
		CanvasId:   canvasId,
	})
	s.publishCanvasUpdated(ctx, canvasId)
	return nil
}

func (s *Service) notify(ctx context.Context, event models.NotificationEvent) {
	if s.Notifier == nil {
		return
	}
	if err := s.Notifier.Notify(ctx, event); err != nil {
		log.Printf("Failed to send %s notification for canvas %s: %v", event.Type, event.CanvasId, err)
	}
}

// Unambiguous alphabet: no 0/O or 1/I/L.
const inviteCodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
const inviteCodeLength = 8

func generateInviteCode() (string, error) {
	var sb strings.Builder
	sb.Grow(inviteCodeLength)
	alphabetSize := big.NewInt(int64(len(inviteCodeAlphabet)))
	for range inviteCodeLength {
		n, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			return "", err
		}
		sb.WriteByte(inviteCodeAlphabet[n.Int64()])
	}
	return sb.String(), nil
}
