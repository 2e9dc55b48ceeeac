package service

import (
	"math"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/zlnvch/fluxcanvas/apperror"
	"github.com/zlnvch/fluxcanvas/models"
)

var hexColorRegex = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

const (
	minPages = 1
	maxPages = 20

	minLayerCapacity     = 1
	maxLayerCapacity     = 50
	defaultLayerCapacity = 10

	minLayerSide = 1
	maxLayerSide = 4000

	maxTextLength    = 500
	maxCaptionLength = 200
	minFontSize      = 6
	maxFontSize      = 200
	maxFontFamilyLen = 64

	maxAnimationMillis = 60_000
)

// ValidateCanvasSettings checks settings and fills defaults for omitted fields.
func ValidateCanvasSettings(settings models.CanvasSettings) (models.CanvasSettings, error) {
	if settings.AccessType == "" {
		settings.AccessType = models.AccessPublic
	}
	if !settings.AccessType.Valid() {
		return settings, apperror.ValidationFailed("accessType", "invalid access type")
	}

	if settings.TotalPages == 0 {
		settings.TotalPages = minPages
	}
	if settings.TotalPages < minPages || settings.TotalPages > maxPages {
		return settings, apperror.ValidationFailed("totalPages", "invalid page count")
	}

	if settings.MaxCollaborators == 0 {
		settings.MaxCollaborators = defaultLayerCapacity
	}
	if settings.MaxCollaborators < minLayerCapacity || settings.MaxCollaborators > maxLayerCapacity {
		return settings, apperror.ValidationFailed("maxCollaborators", "invalid layer capacity")
	}

	return settings, nil
}

// ValidateLayerContent checks the client-controlled fields of a layer.
func ValidateLayerContent(layer models.Layer) error {
	if !layer.Type.Valid() {
		return apperror.ValidationFailed("type", "invalid layer type")
	}

	if err := validateSize(layer.Size); err != nil {
		return err
	}
	if err := validatePosition(layer.Position); err != nil {
		return err
	}
	if !finite(layer.Rotation) {
		return apperror.ValidationFailed("rotation", "invalid rotation")
	}

	switch layer.Type {
	case models.LayerImage, models.LayerSticker:
		if err := validateImageUrl(layer.ImageUrl); err != nil {
			return err
		}
	case models.LayerText:
		if strings.TrimSpace(layer.Text) == "" {
			return apperror.ValidationFailed("text", "text layer needs text")
		}
		if utf8.RuneCountInString(layer.Text) > maxTextLength {
			return apperror.ValidationFailed("text", "text too long")
		}
		if layer.FontSize < minFontSize || layer.FontSize > maxFontSize {
			return apperror.ValidationFailed("fontSize", "invalid font size")
		}
		if !hexColorRegex.MatchString(layer.FontColor) {
			return apperror.ValidationFailed("fontColor", "invalid font color")
		}
		if len(layer.FontFamily) > maxFontFamilyLen {
			return apperror.ValidationFailed("fontFamily", "font family too long")
		}
	}

	if utf8.RuneCountInString(layer.Caption) > maxCaptionLength {
		return apperror.ValidationFailed("caption", "caption too long")
	}

	return ValidateAnimation(layer.Animation)
}

func ValidateAnimation(a *models.Animation) error {
	if a == nil {
		return nil
	}
	if !a.Type.Valid() {
		return apperror.ValidationFailed("animation", "invalid animation type")
	}
	if a.Duration < 0 || a.Duration > maxAnimationMillis {
		return apperror.ValidationFailed("animation", "invalid animation duration")
	}
	if a.Delay < 0 || a.Delay > maxAnimationMillis {
		return apperror.ValidationFailed("animation", "invalid animation delay")
	}
	return nil
}

func validateSize(size models.Size) error {
	if !finite(size.Width) || !finite(size.Height) ||
		size.Width < minLayerSide || size.Width > maxLayerSide ||
		size.Height < minLayerSide || size.Height > maxLayerSide {
		return apperror.ValidationFailed("size", "invalid layer size")
	}
	return nil
}

func validatePosition(pos models.Position) error {
	if !finite(pos.X) || !finite(pos.Y) {
		return apperror.ValidationFailed("position", "invalid position")
	}
	return nil
}

// Image urls come from the blob store, either as a path under the upload prefix or absolute http(s).
func validateImageUrl(imageUrl string) error {
	if imageUrl == "" {
		return apperror.ValidationFailed("imageUrl", "image layer needs an image url")
	}
	u, err := url.Parse(imageUrl)
	if err != nil {
		return apperror.ValidationFailed("imageUrl", "invalid image url")
	}
	if u.Scheme == "" {
		if !strings.HasPrefix(imageUrl, "/") {
			return apperror.ValidationFailed("imageUrl", "invalid image url")
		}
		return nil
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return apperror.ValidationFailed("imageUrl", "image url must be http or https")
	}
	if u.Host == "" {
		return apperror.ValidationFailed("imageUrl", "invalid image url")
	}
	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
