package models

import "time"

// NotificationType classifies a durable notification.
type NotificationType string

const (
	NotifyConnectRequest   NotificationType = "connect_request"
	NotifyConnectAccepted  NotificationType = "connect_accepted"
	NotifyConnectRejected  NotificationType = "connect_rejected"
	NotifyDoctorApproved   NotificationType = "doctor_approved"
	NotifyUserConnect      NotificationType = "user_connect"
	NotifyDoctorConnect    NotificationType = "doctor_connect"
	NotifyInstructionsSent NotificationType = "instructions_sent"
)

// Valid reports whether t is a known notification type.
func (t NotificationType) Valid() bool {
	switch t {
	case NotifyConnectRequest, NotifyConnectAccepted, NotifyConnectRejected, NotifyDoctorApproved,
		NotifyUserConnect, NotifyDoctorConnect, NotifyInstructionsSent:
		return true
	}
	return false
}

// Notification is a persisted event for one recipient.
type Notification struct {
	ID        string           `json:"id" bson:"_id"`
	Recipient string           `json:"recipient" bson:"recipientId"`
	Actor     string           `json:"actor,omitempty" bson:"actorId,omitempty"`
	Type      NotificationType `json:"type" bson:"type"`
	Message   string           `json:"message" bson:"message"`
	Read      bool             `json:"read" bson:"read"`
	Meta      map[string]any   `json:"meta" bson:"meta"`
	CreatedAt time.Time        `json:"createdAt" bson:"createdAt"`
}

// NotifyRequest is the collaborator-facing notify input.
type NotifyRequest struct {
	Recipient string           `json:"recipient" binding:"required"`
	Actor     string           `json:"actor"`
	Type      NotificationType `json:"type" binding:"required"`
	Message   string           `json:"message" binding:"required"`
	Meta      map[string]any   `json:"meta"`
}

// MarkReadRequest is the body of POST /api/notifications/mark-read
type MarkReadRequest struct {
	IDs []string `json:"ids"`
}
