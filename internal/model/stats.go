package model

// RowError records an isolated per-row failure. The row keeps whatever
// partial enrichment succeeded before the error.
type RowError struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}

// RunStatistics accumulates additively over one processing run. It is not
// goroutine-safe; the processor applies updates from a single goroutine.
type RunStatistics struct {
	TotalRows        int        `json:"total_rows"`
	ProcessedRows    int        `json:"processed_rows"`
	FixedCEPs        int        `json:"fixed_ceps"`
	CoordinatesFound int        `json:"coordinates_found"`
	Errors           []RowError `json:"errors,omitempty"`
}

// AddError appends a per-row error.
func (s *RunStatistics) AddError(row int, message string) {
	s.Errors = append(s.Errors, RowError{Row: row, Message: message})
}

// Apply folds one record's outcome into the statistics.
func (s *RunStatistics) Apply(outcome ResolutionOutcome) {
	s.ProcessedRows++
	if outcome.CEP == CEPCorrected {
		s.FixedCEPs++
	}
	if outcome.Coords == CoordsFound {
		s.CoordinatesFound++
	}
}
