// Package model defines the tabular address records flowing through the
// enrichment pipeline and the statistics accumulated per processing run.
package model

import "github.com/rotisserie/eris"

// InputRecord is one row of the source table as read. It is never mutated
// after parsing; enrichment produces derived fields alongside it.
type InputRecord struct {
	// RowIndex is the zero-based data row position in the source file
	// (header excluded).
	RowIndex int

	// Raw holds the row's original fields exactly as decoded, so the output
	// table can reproduce every original column.
	Raw []string

	CEP          string
	Street       string
	Neighborhood string
	Municipality string
	State        string
}

// EnrichedRecord is an InputRecord plus the derived columns produced by
// resolution. Corrected fields are either empty or non-empty trimmed strings.
// Latitude and Longitude are set together or not at all.
type EnrichedRecord struct {
	InputRecord

	CorrectedCEP          string
	CorrectedStreet       string
	CorrectedNeighborhood string
	CorrectedMunicipality string
	CorrectedState        string

	Latitude  *float64
	Longitude *float64
}

// SetCoordinates fills both coordinate fields after range-checking them.
func (r *EnrichedRecord) SetCoordinates(lat, lon float64) error {
	if lat < -90 || lat > 90 {
		return eris.Errorf("latitude %f out of range [-90, 90]", lat)
	}
	if lon < -180 || lon > 180 {
		return eris.Errorf("longitude %f out of range [-180, 180]", lon)
	}
	r.Latitude = &lat
	r.Longitude = &lon
	return nil
}

// HasCoordinates reports whether both coordinates are present.
func (r *EnrichedRecord) HasCoordinates() bool {
	return r.Latitude != nil && r.Longitude != nil
}

// CEPStatus describes how the record's postal code was resolved.
type CEPStatus string

const (
	// CEPValid means the original code resolved as-is.
	CEPValid CEPStatus = "valid"
	// CEPCorrected means a replacement code was discovered by address search.
	CEPCorrected CEPStatus = "corrected"
	// CEPUnresolved means no usable code was obtained.
	CEPUnresolved CEPStatus = "unresolved"
)

// CoordStatus describes whether coordinates were found for the record.
type CoordStatus string

const (
	CoordsFound      CoordStatus = "found"
	CoordsUnresolved CoordStatus = "unresolved"
)

// ResolutionOutcome is the transient per-record result of the resolution
// state machine. It drives statistics updates and is not persisted.
type ResolutionOutcome struct {
	CEP    CEPStatus
	Coords CoordStatus
}
