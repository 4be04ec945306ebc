package models

import "time"

// Status is the processing state of a single row.
type Status string

const (
	StatusPending      Status = "pending"
	StatusSuccess      Status = "success"
	StatusFailed       Status = "failed"
	StatusLimitReached Status = "limit_reached"
	StatusEmpty        Status = "empty"
)

// ParseStatus maps a persisted status value to a Status. Unknown or blank values are pending.
func ParseStatus(s string) Status {
	switch Status(s) {
	case StatusSuccess, StatusFailed, StatusLimitReached, StatusEmpty:
		return Status(s)
	default:
		return StatusPending
	}
}

// Eligible reports whether a row in this status still needs a geocoding attempt.
// Success, failed and empty are terminal.
func (s Status) Eligible() bool {
	return s == StatusPending || s == StatusLimitReached
}

// AddressType is the address-type hint sent to the geocoding service.
type AddressType string

const (
	AddressRoad   AddressType = "road"
	AddressParcel AddressType = "parcel"
)

// Outcome is the result of a single geocoding attempt.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
)

// Row is one input record tracked through the pipeline.
type Row struct {
	Index         int          // Index is the position in the original input and the join key across snapshots.
	Source        []string     // Source holds the original column values.
	RoadAddress   string       // RoadAddress is the road-name address, empty if absent.
	ParcelAddress string       // ParcelAddress is the parcel (jibun) address, empty if absent.
	Coordinates   *Coordinates // Coordinates are set only for resolved rows.
	Status        Status
	ResolvedAt    time.Time // ResolvedAt is zero until the row has been processed.
}

// Resolved reports whether the row carries coordinates.
func (r Row) Resolved() bool {
	return r.Coordinates != nil
}

// WithResult returns a copy of the row carrying the given result.
func (r Row) WithResult(coords *Coordinates, status Status, at time.Time) Row {
	r.Status = status
	r.ResolvedAt = at
	r.Coordinates = nil
	if coords != nil {
		c := *coords
		r.Coordinates = &c
	}
	return r
}
