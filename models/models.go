package models

import "time"

// User is the authenticated identity supplied by the auth collaborator.
type User struct {
	Id         string
	Username   string
	ProfilePic string
}

type Presence struct {
	CanvasId        string    `json:"canvasId"`
	UserId          string    `json:"userId"`
	Username        string    `json:"username"`
	SelectedLayerId string    `json:"selectedLayerId,omitempty"`
	LastActive      time.Time `json:"lastActive"`
}

type NotificationType string

const (
	NotificationAccessRequested NotificationType = "access_requested"
	NotificationAccessApproved  NotificationType = "access_approved"
	NotificationAccessDenied    NotificationType = "access_denied"
	NotificationMemberJoined    NotificationType = "member_joined"
)

type NotificationEvent struct {
	Type       NotificationType `json:"type"`
	FromUserId string           `json:"fromUserId"`
	ToUserId   string           `json:"toUserId"`
	CanvasId   string           `json:"canvasId,omitempty"`
}

// QueueAttributes lets the notification service route an event without
// decoding it. CanvasId is empty for events outside a canvas.
func (e NotificationEvent) QueueAttributes() map[string]string {
	return map[string]string{"kind": string(e.Type), "canvasId": e.CanvasId}
}
