package service_test

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/zlnvch/fluxcanvas/apperror"
	"github.com/zlnvch/fluxcanvas/models"
	"github.com/zlnvch/fluxcanvas/service"
)

func validText() models.Layer {
	return models.Layer{
		Type:      models.LayerText,
		Size:      models.Size{Width: 120, Height: 40},
		Text:      "hello",
		FontSize:  16,
		FontColor: "#112233",
	}
}

func validImage() models.Layer {
	return models.Layer{
		Type:     models.LayerImage,
		Size:     models.Size{Width: 94, Height: 95},
		ImageUrl: "https://cdn.example.com/a.png",
	}
}

func TestValidateLayerContent(t *testing.T) {
	tests := []struct {
		name      string
		layer     func() models.Layer
		wantField string
	}{
		{"Valid Text", validText, ""},
		{"Valid Image", validImage, ""},
		{"Valid Sticker With Upload Path", func() models.Layer {
			l := validImage()
			l.Type = models.LayerSticker
			l.ImageUrl = "/uploads/x.webp"
			return l
		}, ""},
		{"Unknown Type", func() models.Layer {
			l := validText()
			l.Type = "video"
			return l
		}, "type"},
		{"Zero Width", func() models.Layer {
			l := validText()
			l.Size.Width = 0
			return l
		}, "size"},
		{"Huge Height", func() models.Layer {
			l := validText()
			l.Size.Height = 100000
			return l
		}, "size"},
		{"NaN Position", func() models.Layer {
			l := validText()
			l.Position.X = math.NaN()
			return l
		}, "position"},
		{"Infinite Rotation", func() models.Layer {
			l := validText()
			l.Rotation = math.Inf(1)
			return l
		}, "rotation"},
		{"Blank Text", func() models.Layer {
			l := validText()
			l.Text = "   "
			return l
		}, "text"},
		{"Text Too Long", func() models.Layer {
			l := validText()
			l.Text = strings.Repeat("a", 501)
			return l
		}, "text"},
		{"Font Too Small", func() models.Layer {
			l := validText()
			l.FontSize = 2
			return l
		}, "fontSize"},
		{"Named Color", func() models.Layer {
			l := validText()
			l.FontColor = "red"
			return l
		}, "fontColor"},
		{"Color Too Long", func() models.Layer {
			l := validText()
			l.FontColor = "#1122334"
			return l
		}, "fontColor"},
		{"Image Without Url", func() models.Layer {
			l := validImage()
			l.ImageUrl = ""
			return l
		}, "imageUrl"},
		{"Image Javascript Url", func() models.Layer {
			l := validImage()
			l.ImageUrl = "javascript:alert(1)"
			return l
		}, "imageUrl"},
		{"Image Relative Url", func() models.Layer {
			l := validImage()
			l.ImageUrl = "cat.png"
			return l
		}, "imageUrl"},
		{"Caption Too Long", func() models.Layer {
			l := validImage()
			l.Caption = strings.Repeat("c", 201)
			return l
		}, "caption"},
		{"Unknown Animation", func() models.Layer {
			l := validImage()
			l.Animation = &models.Animation{Type: "wobble", Duration: 500}
			return l
		}, "animation"},
		{"Negative Animation Delay", func() models.Layer {
			l := validImage()
			l.Animation = &models.Animation{Type: models.AnimationBounce, Duration: 500, Delay: -1}
			return l
		}, "animation"},
		{"Valid Animation", func() models.Layer {
			l := validImage()
			l.Animation = &models.Animation{Type: models.AnimationFadeIn, Duration: 800, Delay: 100, Loop: true}
			return l
		}, ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := service.ValidateLayerContent(tc.layer())
			if tc.wantField == "" {
				assert.NoError(t, err)
				return
			}
			var appErr *apperror.AppError
			if assert.ErrorAs(t, err, &appErr) {
				assert.ErrorIs(t, err, apperror.ErrValidation)
				assert.Equal(t, tc.wantField, appErr.Field)
			}
		})
	}
}

func TestValidateCanvasSettings(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		got, err := service.ValidateCanvasSettings(models.CanvasSettings{})
		assert.NoError(t, err)
		assert.Equal(t, models.AccessPublic, got.AccessType)
		assert.Equal(t, 1, got.TotalPages)
		assert.Equal(t, 10, got.MaxCollaborators)
	})

	tests := []struct {
		name     string
		settings models.CanvasSettings
		wantErr  bool
	}{
		{"Private", models.CanvasSettings{AccessType: models.AccessPrivate, TotalPages: 3, MaxCollaborators: 5}, false},
		{"Friends", models.CanvasSettings{AccessType: models.AccessFriends}, false},
		{"Unknown Access", models.CanvasSettings{AccessType: "secret"}, true},
		{"Too Many Pages", models.CanvasSettings{TotalPages: 21}, true},
		{"Negative Pages", models.CanvasSettings{TotalPages: -1}, true},
		{"Capacity Too Large", models.CanvasSettings{MaxCollaborators: 51}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := service.ValidateCanvasSettings(tc.settings)
			if tc.wantErr {
				assert.ErrorIs(t, err, apperror.ErrValidation)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
