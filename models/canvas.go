package models

import "time"

type AccessType string

const (
	AccessPublic  AccessType = "public"
	AccessPrivate AccessType = "private"
	// AccessFriends is reserved; canvases with this access type are gated like private ones.
	AccessFriends AccessType = "friends"
)

func (a AccessType) Valid() bool {
	switch a {
	case AccessPublic, AccessPrivate, AccessFriends:
		return true
	}
	return false
}

type Canvas struct {
	Id               string     `json:"id"`
	CreatorId        string     `json:"creatorId"`
	CreatorUsername  string     `json:"creatorUsername"`
	AccessType       AccessType `json:"accessType"`
	InviteCode       string     `json:"inviteCode,omitempty"`
	AllowedUsers     []string   `json:"allowedUsers"`
	PendingRequests  []string   `json:"pendingRequests"`
	Layers           []Layer    `json:"layers"`
	TotalPages       int        `json:"totalPages"`
	MaxCollaborators int        `json:"maxCollaborators"` // max layers per page, not distinct users
	CreatedAt        time.Time  `json:"createdAt"`
	ExpiresAt        time.Time  `json:"expiresAt"`
	IsExpired        bool       `json:"isExpired"`
	ViewCount        int        `json:"viewCount"`
	LikeCount        int        `json:"likeCount"`
	LikedBy          []string   `json:"likedBy"`
	ExportedImageUrl string     `json:"exportedImageUrl,omitempty"`

	// LayersVersion changes on every persisted layer mutation and guards ReplaceLayers.
	LayersVersion int64 `json:"layersVersion"`
}

// LayerCapacity is the per-page layer cap stored as maxCollaborators.
func (c Canvas) LayerCapacity() int {
	return c.MaxCollaborators
}

func (c Canvas) LayersOnPage(pageIndex int) []Layer {
	onPage := make([]Layer, 0, len(c.Layers))
	for _, l := range c.Layers {
		if l.PageIndex == pageIndex {
			onPage = append(onPage, l)
		}
	}
	return onPage
}

func (c Canvas) FindLayer(layerId string) (Layer, bool) {
	for _, l := range c.Layers {
		if l.Id == layerId {
			return l, true
		}
	}
	return Layer{}, false
}

func (c Canvas) IsAllowed(userId string) bool {
	return containsString(c.AllowedUsers, userId)
}

func (c Canvas) IsPending(userId string) bool {
	return containsString(c.PendingRequests, userId)
}

func (c Canvas) IsLikedBy(userId string) bool {
	return containsString(c.LikedBy, userId)
}

func containsString(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}

// CanvasSettings are the creator-chosen fields of a new canvas.
type CanvasSettings struct {
	AccessType       AccessType `json:"accessType"`
	TotalPages       int        `json:"totalPages"`
	MaxCollaborators int        `json:"maxCollaborators"`
}

type DiscoverySort string

const (
	SortMostLiked    DiscoverySort = "likes"
	SortMostViewed   DiscoverySort = "views"
	SortNewest       DiscoverySort = "newest"
	SortExpiringSoon DiscoverySort = "expiring"
)

func (s DiscoverySort) Valid() bool {
	switch s {
	case SortMostLiked, SortMostViewed, SortNewest, SortExpiringSoon:
		return true
	}
	return false
}
