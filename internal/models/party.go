package models

import (
	"strings"
	"time"
)

// Role is the side a party plays in a relationship.
type Role string

const (
	RolePatient   Role = "patient"
	RoleClinician Role = "clinician"
)

// ParseRole normalises role names, including the legacy "user"/"doctor" spelling.
func ParseRole(s string) (Role, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "patient", "user":
		return RolePatient, true
	case "clinician", "doctor":
		return RoleClinician, true
	}
	return "", false
}

// Party is an authenticated participant, owned by the identity store.
type Party struct {
	ID   string `json:"id" bson:"_id"`
	Role Role   `json:"role" bson:"role"`
	Name string `json:"name,omitempty" bson:"name,omitempty"`
}

// RelationshipStatus is the approval state of a patient/clinician pair.
type RelationshipStatus string

const (
	RelationshipPending  RelationshipStatus = "pending"
	RelationshipAccepted RelationshipStatus = "accepted"
	RelationshipApproved RelationshipStatus = "approved"
	RelationshipRejected RelationshipStatus = "rejected"
)

// IsApproved reports whether the status is the approved variant.
func (s RelationshipStatus) IsApproved() bool {
	switch RelationshipStatus(strings.ToLower(string(s))) {
	case RelationshipAccepted, RelationshipApproved:
		return true
	}
	return false
}

// Relationship is an externally owned fact about a pair.
type Relationship struct {
	PatientID   string             `json:"patientId" bson:"patientId"`
	ClinicianID string             `json:"clinicianId" bson:"clinicianId"`
	Status      RelationshipStatus `json:"status" bson:"status"`
	UpdatedAt   time.Time          `json:"updatedAt" bson:"updatedAt"`
}
