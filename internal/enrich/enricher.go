package enrich

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/geografi/enrich-cli/internal/model"
	"github.com/geografi/enrich-cli/pkg/nominatim"
	"github.com/geografi/enrich-cli/pkg/viacep"
)

// centerFallbackStreet is the search term used when the record's own street
// yields no postal match. Most Brazilian municipalities have a central
// district under this name.
const centerFallbackStreet = "Centro"

// PostalResolver resolves and discovers postal codes.
type PostalResolver interface {
	Resolve(ctx context.Context, code string) (*model.Address, error)
	SearchAddress(ctx context.Context, state, city, street string) ([]model.Address, error)
}

// Geocoder resolves a structured address query to coordinates.
type Geocoder interface {
	Geocode(ctx context.Context, q nominatim.Query) (*model.Coordinates, error)
}

// RecordEnricher runs the per-record resolution sequence: validate the
// postal code, discover a replacement when it fails, then work down
// progressively looser geocoding queries until coordinates are found or the
// ladder is exhausted.
type RecordEnricher struct {
	postal PostalResolver
	geo    Geocoder
	log    *zap.Logger
}

// NewRecordEnricher wires the enricher to its two upstream services.
func NewRecordEnricher(postal PostalResolver, geo Geocoder) *RecordEnricher {
	return &RecordEnricher{
		postal: postal,
		geo:    geo,
		log:    zap.L().Named("enrich"),
	}
}

// Enrich resolves one record. The returned record always carries whatever
// partial enrichment succeeded; a non-nil error reports a service failure
// that cut resolution short, never a reason to drop the row.
func (e *RecordEnricher) Enrich(ctx context.Context, rec model.InputRecord) (model.EnrichedRecord, model.ResolutionOutcome, error) {
	out := model.EnrichedRecord{InputRecord: rec}
	outcome := model.ResolutionOutcome{
		CEP:    model.CEPUnresolved,
		Coords: model.CoordsUnresolved,
	}

	addr, cepStatus, err := e.resolveCEP(ctx, rec)
	outcome.CEP = cepStatus
	e.fillCorrected(&out, addr)

	if err != nil {
		// Postal service down: the geocoder is still worth trying with the
		// original fields.
		e.log.Warn("postal resolution failed",
			zap.Int("row", rec.RowIndex),
			zap.String("cep", rec.CEP),
			zap.Error(err),
		)
	}

	geoErr := e.resolveCoordinates(ctx, &out)
	if geoErr == nil && out.HasCoordinates() {
		outcome.Coords = model.CoordsFound
	}
	if geoErr != nil {
		e.log.Warn("geocoding failed",
			zap.Int("row", rec.RowIndex),
			zap.Error(geoErr),
		)
	}

	// The postal failure, when present, is the root problem.
	if err != nil {
		return out, outcome, err
	}
	return out, outcome, geoErr
}

// resolveCEP validates the record's own code, then falls back to address
// search when the code is malformed or unknown.
func (e *RecordEnricher) resolveCEP(ctx context.Context, rec model.InputRecord) (*model.Address, model.CEPStatus, error) {
	code := viacep.Normalize(rec.CEP)
	if viacep.ValidFormat(code) {
		addr, err := e.postal.Resolve(ctx, code)
		switch {
		case err == nil:
			return addr, model.CEPValid, nil
		case eris.Is(err, viacep.ErrNotFound):
			// Fall through to discovery.
		default:
			return nil, model.CEPUnresolved, err
		}
	}

	addr, err := e.discoverCEP(ctx, rec)
	if err != nil {
		return nil, model.CEPUnresolved, err
	}
	if addr == nil {
		return nil, model.CEPUnresolved, nil
	}
	return addr, model.CEPCorrected, nil
}

// discoverCEP searches the postal service by address, trying the record's
// own street first and the municipal center as a last resort. The discovered
// code is re-resolved so the cached canonical payload is used.
func (e *RecordEnricher) discoverCEP(ctx context.Context, rec model.InputRecord) (*model.Address, error) {
	// The search endpoint needs all three parts; a row without them is
	// simply unresolvable, not a service failure.
	if rec.State == "" || rec.Municipality == "" {
		return nil, nil
	}
	for _, street := range []string{rec.Street, centerFallbackStreet} {
		if street == "" {
			continue
		}
		results, err := e.postal.SearchAddress(ctx, rec.State, rec.Municipality, street)
		if err != nil {
			if eris.Is(err, viacep.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if len(results) == 0 {
			continue
		}

		found := results[0]
		code := viacep.Normalize(found.CEP)
		if !viacep.ValidFormat(code) {
			continue
		}
		addr, err := e.postal.Resolve(ctx, code)
		if err != nil {
			if eris.Is(err, viacep.ErrNotFound) {
				// Search hit without a resolvable code; take the search
				// payload as-is.
				return &found, nil
			}
			return nil, err
		}
		return addr, nil
	}
	return nil, nil
}

// fillCorrected derives the corrected columns. Service address fields win
// when present; otherwise the record's own values carry over so the output
// is never sparser than the input. Street and neighborhood are normalized
// either way. The corrected code has no such carry-over: an unresolved code
// leaves it empty rather than echoing an invalid input.
func (e *RecordEnricher) fillCorrected(out *model.EnrichedRecord, addr *model.Address) {
	out.CorrectedStreet = NormalizeAddress(out.Street)
	out.CorrectedNeighborhood = NormalizeAddress(out.Neighborhood)
	out.CorrectedMunicipality = out.Municipality
	out.CorrectedState = out.State

	if addr == nil {
		return
	}
	if code := viacep.Normalize(addr.CEP); viacep.ValidFormat(code) {
		out.CorrectedCEP = code
	} else if code := viacep.Normalize(out.CEP); viacep.ValidFormat(code) {
		out.CorrectedCEP = code
	}
	if addr.Street != "" {
		out.CorrectedStreet = NormalizeAddress(addr.Street)
	}
	if addr.Neighborhood != "" {
		out.CorrectedNeighborhood = NormalizeAddress(addr.Neighborhood)
	}
	if addr.City != "" {
		out.CorrectedMunicipality = addr.City
	}
	if addr.State != "" {
		out.CorrectedState = addr.State
	}
}

// resolveCoordinates works down the query ladder from most to least
// specific. Unknown addresses move to the next rung; a service failure
// aborts the ladder so a dead geocoder is not hit once per rung.
func (e *RecordEnricher) resolveCoordinates(ctx context.Context, out *model.EnrichedRecord) error {
	for _, q := range e.queryLadder(out) {
		coords, err := e.geo.Geocode(ctx, q)
		switch {
		case err == nil:
			if setErr := out.SetCoordinates(coords.Latitude, coords.Longitude); setErr != nil {
				return setErr
			}
			return nil
		case eris.Is(err, nominatim.ErrNotFound), eris.Is(err, nominatim.ErrQueryTooShort):
			continue
		default:
			return err
		}
	}
	return nil
}

func (e *RecordEnricher) queryLadder(out *model.EnrichedRecord) []nominatim.Query {
	city := out.CorrectedMunicipality
	state := out.CorrectedState

	candidates := []nominatim.Query{
		{Street: out.CorrectedStreet, Neighborhood: out.CorrectedNeighborhood, City: city, State: state},
		{Street: out.CorrectedStreet, City: city, State: state},
		{Neighborhood: out.CorrectedNeighborhood, City: city, State: state},
		{City: city, State: state},
	}

	ladder := make([]nominatim.Query, 0, len(candidates))
	seen := make(map[string]struct{}, len(candidates))
	for _, q := range candidates {
		text := q.Text()
		if text == "" {
			continue
		}
		if _, ok := seen[text]; ok {
			continue
		}
		seen[text] = struct{}{}
		ladder = append(ladder, q)
	}
	return ladder
}
