package models

import "time"

type LayerType string

const (
	LayerImage   LayerType = "image"
	LayerText    LayerType = "text"
	LayerSticker LayerType = "sticker"
)

func (t LayerType) Valid() bool {
	switch t {
	case LayerImage, LayerText, LayerSticker:
		return true
	}
	return false
}

type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type AnimationType string

const (
	AnimationNone       AnimationType = "none"
	AnimationFadeIn     AnimationType = "fadeIn"
	AnimationFadeOut    AnimationType = "fadeOut"
	AnimationSlideLeft  AnimationType = "slideLeft"
	AnimationSlideRight AnimationType = "slideRight"
	AnimationSlideUp    AnimationType = "slideUp"
	AnimationSlideDown  AnimationType = "slideDown"
	AnimationScaleIn    AnimationType = "scaleIn"
	AnimationScaleOut   AnimationType = "scaleOut"
	AnimationBounce     AnimationType = "bounce"
	AnimationRotate     AnimationType = "rotate"
	AnimationPulse      AnimationType = "pulse"
)

func (a AnimationType) Valid() bool {
	switch a {
	case AnimationNone, AnimationFadeIn, AnimationFadeOut,
		AnimationSlideLeft, AnimationSlideRight, AnimationSlideUp, AnimationSlideDown,
		AnimationScaleIn, AnimationScaleOut, AnimationBounce, AnimationRotate, AnimationPulse:
		return true
	}
	return false
}

type Animation struct {
	Type     AnimationType `json:"type"`
	Duration int           `json:"duration"` // milliseconds
	Delay    int           `json:"delay"`    // milliseconds
	Loop     bool          `json:"loop"`
}

type Layer struct {
	Id        string    `json:"id"`
	Type      LayerType `json:"type"`
	Position  Position  `json:"position"`
	Size      Size      `json:"size"`
	Rotation  float64   `json:"rotation"`
	ZIndex    int       `json:"zIndex"`
	PageIndex int       `json:"pageIndex"`

	// image and sticker payload
	ImageUrl string `json:"imageUrl,omitempty"`
	Caption  string `json:"caption,omitempty"`

	// text payload
	Text       string  `json:"text,omitempty"`
	FontSize   float64 `json:"fontSize,omitempty"`
	FontColor  string  `json:"fontColor,omitempty"`
	FontFamily string  `json:"fontFamily,omitempty"`

	Animation *Animation `json:"animation,omitempty"`

	CreatedBy           string    `json:"createdBy"`
	CreatedByUsername   string    `json:"createdByUsername"`
	CreatedByProfilePic string    `json:"createdByProfilePic,omitempty"`
	CreatedAt           time.Time `json:"createdAt"`
	UpdatedAt           time.Time `json:"updatedAt"`

	Version int64 `json:"version"`
}

// LayerPatch holds the mutable fields of a layer. Nil fields are left unchanged.
type LayerPatch struct {
	Position   *Position  `json:"position,omitempty"`
	Size       *Size      `json:"size,omitempty"`
	Rotation   *float64   `json:"rotation,omitempty"`
	ZIndex     *int       `json:"zIndex,omitempty"`
	Caption    *string    `json:"caption,omitempty"`
	Text       *string    `json:"text,omitempty"`
	FontSize   *float64   `json:"fontSize,omitempty"`
	FontColor  *string    `json:"fontColor,omitempty"`
	FontFamily *string    `json:"fontFamily,omitempty"`
	Animation  *Animation `json:"animation,omitempty"`
}

func (p LayerPatch) Apply(l Layer) Layer {
	if p.Position != nil {
		l.Position = *p.Position
	}
	if p.Size != nil {
		l.Size = *p.Size
	}
	if p.Rotation != nil {
		l.Rotation = *p.Rotation
	}
	if p.ZIndex != nil {
		l.ZIndex = *p.ZIndex
	}
	if p.Caption != nil {
		l.Caption = *p.Caption
	}
	if p.Text != nil {
		l.Text = *p.Text
	}
	if p.FontSize != nil {
		l.FontSize = *p.FontSize
	}
	if p.FontColor != nil {
		l.FontColor = *p.FontColor
	}
	if p.FontFamily != nil {
		l.FontFamily = *p.FontFamily
	}
	if p.Animation != nil {
		a := *p.Animation
		l.Animation = &a
	}
	return l
}
