/*
dto.go - Request/response data structures for the HTTP API

PURPOSE:
  Wire shapes only. Volumes cross the wire as float64 millilitres and
  are converted to decimal at the boundary; dates and timestamps are
  strings (YYYY-MM-DD and RFC3339). Domain types never leak into JSON.

SEE ALSO:
  - handlers.go: Handler implementations
*/
package api

import (
	"time"

	"github.com/warp/bloodbank/engine"
)

// =============================================================================
// REQUESTS
// =============================================================================

type CreateUnitRequest struct {
	BloodType string  `json:"blood_type"`
	Component string  `json:"component"`
	VolumeMl  float64 `json:"volume_ml"`
}

type CreateDemandRequest struct {
	BloodType string  `json:"blood_type"`
	Component string  `json:"component"`
	VolumeMl  float64 `json:"volume_ml"`
	Reason    string  `json:"reason,omitempty"`
}

type CreateUrgentDemandRequest struct {
	// BloodType may be "unknown" for an untyped patient; it must be
	// resolved before planning.
	BloodType      string   `json:"blood_type"`
	Component      string   `json:"component"`
	VolumeMl       float64  `json:"volume_ml"`
	PatientName    string   `json:"patient_name"`
	PatientContact string   `json:"patient_contact,omitempty"`
	Reason         string   `json:"reason,omitempty"`
	OriginLat      *float64 `json:"origin_lat,omitempty"`
	OriginLon      *float64 `json:"origin_lon,omitempty"`
}

type ResolveTypeRequest struct {
	BloodType string `json:"blood_type"`
}

type SelectionDTO struct {
	UnitID   string  `json:"unit_id"`
	VolumeMl float64 `json:"volume_ml"`
}

type ApproveRequest struct {
	Selections []SelectionDTO `json:"selections"`
}

type AssignRequest struct {
	Selections      []SelectionDTO `json:"selections"`
	AllowPreemption bool           `json:"allow_preemption"`
}

type CreatePeriodRequest struct {
	Name  string `json:"name"`
	Start string `json:"start"` // YYYY-MM-DD
	End   string `json:"end"`   // YYYY-MM-DD
}

// =============================================================================
// RESPONSES
// =============================================================================

type UnitDTO struct {
	ID          string  `json:"id"`
	BloodType   string  `json:"blood_type"`
	Component   string  `json:"component"`
	VolumeMl    float64 `json:"volume_ml"`
	RemainingMl float64 `json:"remaining_ml"`
	Status      string  `json:"status"`
	AddedAt     string  `json:"added_at"`
	ExpiresAt   string  `json:"expires_at"`
}

type DemandDTO struct {
	ID             string   `json:"id"`
	Urgency        string   `json:"urgency"`
	BloodType      string   `json:"blood_type"`
	Component      string   `json:"component"`
	RequiredMl     float64  `json:"required_ml"`
	Status         string   `json:"status"`
	Reason         string   `json:"reason,omitempty"`
	PatientName    string   `json:"patient_name,omitempty"`
	PatientContact string   `json:"patient_contact,omitempty"`
	RequestedAt    string   `json:"requested_at"`
	ApprovedAt     *string  `json:"approved_at,omitempty"`
	CompletedAt    *string  `json:"completed_at,omitempty"`
	CancelledAt    *string  `json:"cancelled_at,omitempty"`
	OriginLat      *float64 `json:"origin_lat,omitempty"`
	OriginLon      *float64 `json:"origin_lon,omitempty"`
}

type LinkDTO struct {
	ID         string  `json:"id"`
	DemandID   string  `json:"demand_id"`
	UnitID     string  `json:"unit_id"`
	AssignedMl float64 `json:"assigned_ml"`
	Status     string  `json:"status"`
	AssignedAt string  `json:"assigned_at"`
}

type DemandDetailDTO struct {
	Demand DemandDTO `json:"demand"`
	Links  []LinkDTO `json:"links"`
}

type PlannedUnitDTO struct {
	Unit        UnitDTO `json:"unit"`
	TakeMl      float64 `json:"take_ml"`
	Preemptable bool    `json:"preemptable"`
}

type TypeGroupDTO struct {
	BloodType  string           `json:"blood_type"`
	Units      []PlannedUnitDTO `json:"units"`
	SubtotalMl float64          `json:"subtotal_ml"`
}

type DonorMatchDTO struct {
	DonorID    string   `json:"donor_id"`
	Name       string   `json:"name"`
	BloodType  string   `json:"blood_type"`
	DistanceKm *float64 `json:"distance_km,omitempty"`
}

type PlanDTO struct {
	DemandID   string          `json:"demand_id"`
	Tier       string          `json:"tier"`
	RequiredMl float64         `json:"required_ml"`
	TotalMl    float64         `json:"total_ml"`
	Enough     bool            `json:"enough"`
	Groups     []TypeGroupDTO  `json:"groups"`
	Donors     []DonorMatchDTO `json:"donors,omitempty"`
}

type AvailabilityGroupDTO struct {
	BloodType   string  `json:"blood_type"`
	UnitCount   int     `json:"unit_count"`
	RemainingMl float64 `json:"remaining_ml"`
	NextExpiry  string  `json:"next_expiry,omitempty"`
}

type AvailabilityDTO struct {
	Recipient   string                 `json:"recipient"`
	Component   string                 `json:"component"`
	Groups      []AvailabilityGroupDTO `json:"groups"`
	RemainingMl float64                `json:"remaining_ml"`
}

type PeriodDTO struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Start  string `json:"start"`
	End    string `json:"end"`
	Status string `json:"status"`
}

type RuleDTO struct {
	Donor      string `json:"donor"`
	Recipient  string `json:"recipient"`
	Component  string `json:"component"`
	Compatible bool   `json:"compatible"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func ml(v engine.Volume) float64 {
	f, _ := v.Ml.Float64()
	return f
}

func toUnitDTO(u engine.BloodUnit) UnitDTO {
	return UnitDTO{
		ID:          string(u.ID),
		BloodType:   string(u.BloodType),
		Component:   string(u.Component),
		VolumeMl:    ml(u.Volume),
		RemainingMl: ml(u.Remaining),
		Status:      string(u.Status),
		AddedAt:     u.AddedAt.Format(time.RFC3339),
		ExpiresAt:   u.ExpiresAt.Format("2006-01-02"),
	}
}

func toDemandDTO(d engine.DemandRequest) DemandDTO {
	dto := DemandDTO{
		ID:          string(d.ID),
		Urgency:     string(d.Urgency),
		BloodType:   string(d.BloodType),
		Component:   string(d.Component),
		RequiredMl:  ml(d.RequiredVolume),
		Status:      string(d.Status),
		Reason:      d.Reason,
		RequestedAt: d.RequestedAt.Format(time.RFC3339),
		ApprovedAt:  fmtTimePtr(d.ApprovedAt),
		CompletedAt: fmtTimePtr(d.CompletedAt),
		CancelledAt: fmtTimePtr(d.CancelledAt),
	}
	if d.Patient != nil {
		dto.PatientName = d.Patient.Name
		dto.PatientContact = d.Patient.Contact
	}
	if d.Origin != nil {
		dto.OriginLat = &d.Origin.Lat
		dto.OriginLon = &d.Origin.Lon
	}
	return dto
}

func toLinkDTO(l engine.ReservationLink) LinkDTO {
	return LinkDTO{
		ID:         string(l.ID),
		DemandID:   string(l.DemandID),
		UnitID:     string(l.UnitID),
		AssignedMl: ml(l.AssignedVolume),
		Status:     string(l.Status),
		AssignedAt: l.AssignedAt.Format(time.RFC3339),
	}
}

func toPlanDTO(p *engine.Plan) PlanDTO {
	dto := PlanDTO{
		DemandID:   string(p.DemandID),
		Tier:       string(p.Tier),
		RequiredMl: ml(p.Required),
		TotalMl:    ml(p.Total),
		Enough:     p.Enough,
		Groups:     make([]TypeGroupDTO, 0, len(p.Groups)),
	}
	for _, g := range p.Groups {
		gd := TypeGroupDTO{BloodType: string(g.BloodType), SubtotalMl: ml(g.Subtotal)}
		for _, pu := range g.Units {
			gd.Units = append(gd.Units, PlannedUnitDTO{
				Unit:        toUnitDTO(pu.Unit),
				TakeMl:      ml(pu.Take),
				Preemptable: pu.Preemptable,
			})
		}
		dto.Groups = append(dto.Groups, gd)
	}
	for _, m := range p.Donors {
		dto.Donors = append(dto.Donors, DonorMatchDTO{
			DonorID:    string(m.Donor.ID),
			Name:       m.Donor.Name,
			BloodType:  string(m.Donor.BloodType),
			DistanceKm: m.DistanceKm,
		})
	}
	return dto
}

func toPeriodDTO(p engine.CollectionPeriod) PeriodDTO {
	return PeriodDTO{
		ID:     string(p.ID),
		Name:   p.Name,
		Start:  p.Start.Format("2006-01-02"),
		End:    p.End.Format("2006-01-02"),
		Status: string(p.Status),
	}
}

func toSelections(dtos []SelectionDTO) []engine.Selection {
	selections := make([]engine.Selection, 0, len(dtos))
	for _, s := range dtos {
		selections = append(selections, engine.Selection{
			UnitID: engine.UnitID(s.UnitID),
			Volume: engine.NewVolume(s.VolumeMl),
		})
	}
	return selections
}

func fmtTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}
