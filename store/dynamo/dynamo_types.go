package dynamo

import (
	"strings"
	"time"

	"github.com/zlnvch/fluxcanvas/models"
)

const (
	canvasPKPrefix = "CANVAS#"
	metaSK         = "META"
	layerSKPrefix  = "LAYER#"

	discoveryPartition = "PUBLIC"
	expiryPartition    = "ACTIVE"
)

func canvasPK(canvasId string) string {
	return canvasPKPrefix + canvasId
}

func layerSK(layerId string) string {
	return layerSKPrefix + layerId
}

type dynamoCanvas struct {
	PK               string   `dynamodbav:"PK"`
	SK               string   `dynamodbav:"SK"`
	Id               string   `dynamodbav:"Id"`
	CreatorId        string   `dynamodbav:"CreatorId"`
	CreatorUsername  string   `dynamodbav:"CreatorUsername"`
	AccessType       string   `dynamodbav:"AccessType"`
	InviteCode       string   `dynamodbav:"InviteCode,omitempty"`
	AllowedUsers     []string `dynamodbav:"AllowedUsers,stringset,omitempty"`
	PendingRequests  []string `dynamodbav:"PendingRequests,stringset,omitempty"`
	LikedBy          []string `dynamodbav:"LikedBy,stringset,omitempty"`
	TotalPages       int      `dynamodbav:"TotalPages"`
	MaxCollaborators int      `dynamodbav:"MaxCollaborators"`
	CreatedAt        int64    `dynamodbav:"CreatedAt"`
	ExpiresAt        int64    `dynamodbav:"ExpiresAt"`
	IsExpired        bool     `dynamodbav:"IsExpired"`
	ViewCount        int      `dynamodbav:"ViewCount"`
	LikeCount        int      `dynamodbav:"LikeCount"`
	ExportedImageUrl string   `dynamodbav:"ExportedImageUrl,omitempty"`
	LayersVersion    int64    `dynamodbav:"LayersVersion"`

	// Sparse index keys: DiscoveryPK only on public canvases, ExpiryPK until the sweep marks expiry.
	DiscoveryPK string `dynamodbav:"DiscoveryPK,omitempty"`
	ExpiryPK    string `dynamodbav:"ExpiryPK,omitempty"`
}

func canvasToDynamo(c models.Canvas) dynamoCanvas {
	dc := dynamoCanvas{
		PK:               canvasPK(c.Id),
		SK:               metaSK,
		Id:               c.Id,
		CreatorId:        c.CreatorId,
		CreatorUsername:  c.CreatorUsername,
		AccessType:       string(c.AccessType),
		InviteCode:       c.InviteCode,
		AllowedUsers:     c.AllowedUsers,
		PendingRequests:  c.PendingRequests,
		LikedBy:          c.LikedBy,
		TotalPages:       c.TotalPages,
		MaxCollaborators: c.MaxCollaborators,
		CreatedAt:        c.CreatedAt.UnixMilli(),
		ExpiresAt:        c.ExpiresAt.UnixMilli(),
		IsExpired:        c.IsExpired,
		ViewCount:        c.ViewCount,
		LikeCount:        c.LikeCount,
		ExportedImageUrl: c.ExportedImageUrl,
		LayersVersion:    c.LayersVersion,
	}
	if c.AccessType == models.AccessPublic && !c.IsExpired {
		dc.DiscoveryPK = discoveryPartition
	}
	if !c.IsExpired {
		dc.ExpiryPK = expiryPartition
	}
	return dc
}

func canvasFromDynamo(dc dynamoCanvas) models.Canvas {
	return models.Canvas{
		Id:               dc.Id,
		CreatorId:        dc.CreatorId,
		CreatorUsername:  dc.CreatorUsername,
		AccessType:       models.AccessType(dc.AccessType),
		InviteCode:       dc.InviteCode,
		AllowedUsers:     nonNil(dc.AllowedUsers),
		PendingRequests:  nonNil(dc.PendingRequests),
		LikedBy:          nonNil(dc.LikedBy),
		Layers:           []models.Layer{},
		TotalPages:       dc.TotalPages,
		MaxCollaborators: dc.MaxCollaborators,
		CreatedAt:        time.UnixMilli(dc.CreatedAt).UTC(),
		ExpiresAt:        time.UnixMilli(dc.ExpiresAt).UTC(),
		IsExpired:        dc.IsExpired,
		ViewCount:        dc.ViewCount,
		LikeCount:        dc.LikeCount,
		ExportedImageUrl: dc.ExportedImageUrl,
		LayersVersion:    dc.LayersVersion,
	}
}

type dynamoAnimation struct {
	Type     string `dynamodbav:"Type"`
	Duration int    `dynamodbav:"Duration"`
	Delay    int    `dynamodbav:"Delay"`
	Loop     bool   `dynamodbav:"Loop"`
}

type dynamoLayer struct {
	PK                  string           `dynamodbav:"PK"`
	SK                  string           `dynamodbav:"SK"`
	Id                  string           `dynamodbav:"Id"`
	Type                string           `dynamodbav:"Type"`
	X                   float64          `dynamodbav:"X"`
	Y                   float64          `dynamodbav:"Y"`
	Width               float64          `dynamodbav:"Width"`
	Height              float64          `dynamodbav:"Height"`
	Rotation            float64          `dynamodbav:"Rotation"`
	ZIndex              int              `dynamodbav:"ZIndex"`
	PageIndex           int              `dynamodbav:"PageIndex"`
	ImageUrl            string           `dynamodbav:"ImageUrl,omitempty"`
	Caption             string           `dynamodbav:"Caption,omitempty"`
	Text                string           `dynamodbav:"Text,omitempty"`
	FontSize            float64          `dynamodbav:"FontSize,omitempty"`
	FontColor           string           `dynamodbav:"FontColor,omitempty"`
	FontFamily          string           `dynamodbav:"FontFamily,omitempty"`
	Animation           *dynamoAnimation `dynamodbav:"Animation,omitempty"`
	CreatedBy           string           `dynamodbav:"CreatedBy"`
	CreatedByUsername   string           `dynamodbav:"CreatedByUsername"`
	CreatedByProfilePic string           `dynamodbav:"CreatedByProfilePic,omitempty"`
	CreatedAt           int64            `dynamodbav:"CreatedAt"`
	UpdatedAt           int64            `dynamodbav:"UpdatedAt"`
	Version             int64            `dynamodbav:"Version"`
	SortOrder           int64            `dynamodbav:"SortOrder"`
}

func layerToDynamo(canvasId string, l models.Layer, sortOrder int64) dynamoLayer {
	dl := dynamoLayer{
		PK:                  canvasPK(canvasId),
		SK:                  layerSK(l.Id),
		Id:                  l.Id,
		Type:                string(l.Type),
		X:                   l.Position.X,
		Y:                   l.Position.Y,
		Width:               l.Size.Width,
		Height:              l.Size.Height,
		Rotation:            l.Rotation,
		ZIndex:              l.ZIndex,
		PageIndex:           l.PageIndex,
		ImageUrl:            l.ImageUrl,
		Caption:             l.Caption,
		Text:                l.Text,
		FontSize:            l.FontSize,
		FontColor:           l.FontColor,
		FontFamily:          l.FontFamily,
		CreatedBy:           l.CreatedBy,
		CreatedByUsername:   l.CreatedByUsername,
		CreatedByProfilePic: l.CreatedByProfilePic,
		CreatedAt:           l.CreatedAt.UnixMilli(),
		UpdatedAt:           l.UpdatedAt.UnixMilli(),
		Version:             l.Version,
		SortOrder:           sortOrder,
	}
	if l.Animation != nil {
		dl.Animation = &dynamoAnimation{
			Type:     string(l.Animation.Type),
			Duration: l.Animation.Duration,
			Delay:    l.Animation.Delay,
			Loop:     l.Animation.Loop,
		}
	}
	return dl
}

func layerFromDynamo(dl dynamoLayer) models.Layer {
	l := models.Layer{
		Id:                  dl.Id,
		Type:                models.LayerType(dl.Type),
		Position:            models.Position{X: dl.X, Y: dl.Y},
		Size:                models.Size{Width: dl.Width, Height: dl.Height},
		Rotation:            dl.Rotation,
		ZIndex:              dl.ZIndex,
		PageIndex:           dl.PageIndex,
		ImageUrl:            dl.ImageUrl,
		Caption:             dl.Caption,
		Text:                dl.Text,
		FontSize:            dl.FontSize,
		FontColor:           dl.FontColor,
		FontFamily:          dl.FontFamily,
		CreatedBy:           dl.CreatedBy,
		CreatedByUsername:   dl.CreatedByUsername,
		CreatedByProfilePic: dl.CreatedByProfilePic,
		CreatedAt:           time.UnixMilli(dl.CreatedAt).UTC(),
		UpdatedAt:           time.UnixMilli(dl.UpdatedAt).UTC(),
		Version:             dl.Version,
	}
	if dl.Animation != nil {
		l.Animation = &models.Animation{
			Type:     models.AnimationType(dl.Animation.Type),
			Duration: dl.Animation.Duration,
			Delay:    dl.Animation.Delay,
			Loop:     dl.Animation.Loop,
		}
	}
	return l
}

func isLayerSK(sk string) bool {
	return strings.HasPrefix(sk, layerSKPrefix)
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
