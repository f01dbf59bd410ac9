/*
demand.go - Transfusion demand entity and status machine

PURPOSE:
  A DemandRequest asks for a volume of one component for a recipient
  blood type. Two variants share the lifecycle:
  - Routine: scheduled transfusion, no preemption rights
  - Urgent:  carries patient/contact identity, may preempt routine
    reservations, and may arrive before the patient has been typed

LIFECYCLE:
      Pending ──approve/assign──▶ Approved ──complete──▶ Completed
         │                           │
         ├──reject──▶ Rejected       └──cancel──▶ Cancelled
         └──cancel──▶ Cancelled

  Approval only ever happens together with a committed reservation;
  see reservation.go.
*/
package engine

import (
	"time"

	"github.com/warp/bloodbank/geo"
)

// =============================================================================
// DEMAND STATUS
// =============================================================================

type DemandStatus string

const (
	DemandPending   DemandStatus = "pending"
	DemandApproved  DemandStatus = "approved"
	DemandCompleted DemandStatus = "completed"
	DemandCancelled DemandStatus = "cancelled"
	DemandRejected  DemandStatus = "rejected"
)

func (s DemandStatus) Terminal() bool {
	return s == DemandCompleted || s == DemandCancelled || s == DemandRejected
}

// ParseDemandStatus validates an externally supplied status string
// against the closed status set.
func ParseDemandStatus(s string) (DemandStatus, error) {
	switch st := DemandStatus(s); st {
	case DemandPending, DemandApproved, DemandCompleted, DemandCancelled, DemandRejected:
		return st, nil
	}
	return "", &InvalidInputError{Field: "status", Value: s}
}

// =============================================================================
// URGENCY
// =============================================================================

type Urgency string

const (
	UrgencyRoutine Urgency = "routine"
	UrgencyUrgent  Urgency = "urgent"
)

// =============================================================================
// DEMAND REQUEST
// =============================================================================

// PatientDetails identifies the patient behind an urgent demand.
type PatientDetails struct {
	Name    string
	Contact string
}

type DemandRequest struct {
	ID      DemandID
	Urgency Urgency

	// BloodType is the recipient's type. Urgent demands may start as
	// TypeUnknown and must be resolved before planning.
	BloodType      BloodType
	Component      Component
	RequiredVolume Volume

	Status DemandStatus
	Reason string

	// Urgent-only fields.
	Patient *PatientDetails
	// Origin is the requesting site, used for the mobilization radius.
	Origin *geo.Point

	RequestedAt time.Time
	ApprovedAt  *time.Time
	CompletedAt *time.Time
	CancelledAt *time.Time
}

// NewRoutineDemand validates and builds a Pending routine demand.
func NewRoutineDemand(bt BloodType, component Component, volume Volume, reason string, at time.Time) (DemandRequest, error) {
	if !bt.Known() {
		return DemandRequest{}, &InvalidInputError{Field: "blood_type", Value: string(bt)}
	}
	if _, err := ShelfLifeDays(component); err != nil {
		return DemandRequest{}, err
	}
	if !volume.IsPositive() {
		return DemandRequest{}, &InvalidInputError{Field: "required_volume", Value: volume.String()}
	}
	return DemandRequest{
		ID:             NewDemandID(),
		Urgency:        UrgencyRoutine,
		BloodType:      bt,
		Component:      component,
		RequiredVolume: volume,
		Status:         DemandPending,
		Reason:         reason,
		RequestedAt:    at.UTC(),
	}, nil
}

// UrgentInput carries intake parameters for an urgent demand.
// BloodType may be TypeUnknown when the patient has not been typed yet.
type UrgentInput struct {
	BloodType BloodType
	Component Component
	Volume    Volume
	Patient   PatientDetails
	Origin    *geo.Point
	Reason    string
}

// NewUrgentDemand validates and builds a Pending urgent demand.
func NewUrgentDemand(in UrgentInput, at time.Time) (DemandRequest, error) {
	if in.BloodType != TypeUnknown {
		if _, err := ParseBloodType(string(in.BloodType)); err != nil {
			return DemandRequest{}, err
		}
	}
	if _, err := ShelfLifeDays(in.Component); err != nil {
		return DemandRequest{}, err
	}
	if !in.Volume.IsPositive() {
		return DemandRequest{}, &InvalidInputError{Field: "required_volume", Value: in.Volume.String()}
	}
	if in.Patient.Name == "" {
		return DemandRequest{}, &InvalidInputError{Field: "patient_name", Value: ""}
	}
	patient := in.Patient
	return DemandRequest{
		ID:             NewDemandID(),
		Urgency:        UrgencyUrgent,
		BloodType:      in.BloodType,
		Component:      in.Component,
		RequiredVolume: in.Volume,
		Status:         DemandPending,
		Reason:         in.Reason,
		Patient:        &patient,
		Origin:         in.Origin,
		RequestedAt:    at.UTC(),
	}, nil
}
