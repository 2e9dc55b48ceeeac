package service

import (
	"context"
	"net/url"
	"strings"

	"github.com/zlnvch/fluxcanvas/apperror"
	"github.com/zlnvch/fluxcanvas/models"
)

const (
	deepLinkScheme = "app"
	deepLinkHost   = "canvas"
)

// ParseDeepLink extracts the canvas id from app://canvas/<canvasId>.
func ParseDeepLink(link string) (string, error) {
	u, err := url.Parse(link)
	if err != nil {
		return "", apperror.ValidationFailed("link", "invalid deep link")
	}
	if u.Scheme != deepLinkScheme || u.Host != deepLinkHost {
		return "", apperror.ValidationFailed("link", "not a canvas link")
	}

	canvasId := strings.TrimPrefix(u.Path, "/")
	if canvasId == "" || strings.Contains(canvasId, "/") {
		return "", apperror.ValidationFailed("link", "deep link has no canvas id")
	}
	return canvasId, nil
}

// ResolveDeepLink opens the linked canvas for user, subject to the access gate.
func (s *Service) ResolveDeepLink(ctx context.Context, user models.User, link string) (CanvasAccess, error) {
	canvasId, err := ParseDeepLink(link)
	if err != nil {
		return CanvasAccess{}, err
	}
	return s.OpenCanvas(ctx, user, canvasId)
}
