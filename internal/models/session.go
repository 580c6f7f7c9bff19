package models

import "time"

// SessionStatus is the lifecycle state of a therapy session, owned by the CRUD layer.
type SessionStatus string

const (
	SessionPending         SessionStatus = "pending"
	SessionAccepted        SessionStatus = "accepted"
	SessionIntakeSubmitted SessionStatus = "intake_submitted"
	SessionResponded       SessionStatus = "responded"
	SessionActive          SessionStatus = "active"
	SessionCompleted       SessionStatus = "completed"
	SessionCancelled       SessionStatus = "cancelled"
)

// AllowsReadiness reports whether parties may toggle readiness in this status.
func (s SessionStatus) AllowsReadiness() bool {
	switch s {
	case SessionAccepted, SessionIntakeSubmitted, SessionResponded:
		return true
	}
	return false
}

// Side is which readiness flag a party owns.
type Side string

const (
	SideUser   Side = "user"
	SideDoctor Side = "doctor"
)

// Readiness is the two-party connect state of a session.
type Readiness struct {
	UserReady   bool       `json:"userReady" bson:"userReady"`
	DoctorReady bool       `json:"doctorReady" bson:"doctorReady"`
	ConnectedAt *time.Time `json:"connectedAt" bson:"connectedAt"`
}

// Connected reports whether both parties are ready.
func (r Readiness) Connected() bool {
	return r.UserReady && r.DoctorReady
}

// TherapySession is the slice of the session record this service reads and writes.
type TherapySession struct {
	ID        string        `json:"id" bson:"_id"`
	UserID    string        `json:"userId" bson:"userId"`
	DoctorID  string        `json:"doctorId" bson:"doctorId"`
	Status    SessionStatus `json:"status" bson:"status"`
	Readiness Readiness     `json:"connectionState" bson:"connectionState"`
}

// SideOf returns the flag party owns in this session.
func (s TherapySession) SideOf(party string) (Side, bool) {
	switch party {
	case s.UserID:
		return SideUser, true
	case s.DoctorID:
		return SideDoctor, true
	}
	return "", false
}

// Other returns the counterpart of party.
func (s TherapySession) Other(party string) string {
	if party == s.UserID {
		return s.DoctorID
	}
	return s.UserID
}

// SessionConnect is pushed to both parties on every readiness toggle.
type SessionConnect struct {
	SessionID   string `json:"sessionId"`
	ActorID     string `json:"actorId"`
	ActorName   string `json:"actorName,omitempty"`
	UserReady   bool   `json:"userReady"`
	DoctorReady bool   `json:"doctorReady"`
	Connected   bool   `json:"connected"`
}

// ToggleResult is returned by the readiness toggle.
type ToggleResult struct {
	SessionID   string     `json:"sessionId"`
	UserReady   bool       `json:"userReady"`
	DoctorReady bool       `json:"doctorReady"`
	Connected   bool       `json:"connected"`
	ConnectedAt *time.Time `json:"connectedAt"`
	Message     string     `json:"message"`
}

// SessionInstructions is pushed to the patient when instructions are sent.
type SessionInstructions struct {
	SessionID       string `json:"sessionId"`
	DoctorID        string `json:"doctorId"`
	DoctorName      string `json:"doctorName"`
	HasInstructions bool   `json:"hasInstructions"`
	HasMarmaPlan    bool   `json:"hasMarmaPlan"`
}
