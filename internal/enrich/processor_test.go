package enrich

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geografi/enrich-cli/internal/model"
)

// stubEnricher resolves records from a script keyed by row index.
type stubEnricher struct {
	mu     sync.Mutex
	calls  int32
	fix    map[int]bool // rows whose code gets corrected
	coords map[int]bool // rows that receive coordinates
	fail   map[int]bool // rows that error
	onCall func(n int32, ctx context.Context)
}

func (s *stubEnricher) Enrich(ctx context.Context, rec model.InputRecord) (model.EnrichedRecord, model.ResolutionOutcome, error) {
	n := atomic.AddInt32(&s.calls, 1)
	if s.onCall != nil {
		s.onCall(n, ctx)
	}

	out := model.EnrichedRecord{InputRecord: rec}
	out.CorrectedCEP = rec.CEP
	outcome := model.ResolutionOutcome{CEP: model.CEPValid, Coords: model.CoordsUnresolved}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fix[rec.RowIndex] {
		out.CorrectedCEP = "99999999"
		outcome.CEP = model.CEPCorrected
	}
	if s.coords[rec.RowIndex] {
		_ = out.SetCoordinates(-23.5, -46.6)
		outcome.Coords = model.CoordsFound
	}
	if s.fail[rec.RowIndex] {
		return out, outcome, eris.New("boom")
	}
	return out, outcome, nil
}

func writeInputFile(t *testing.T, rows int) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("cep,rua,bairro,cidade,uf\n")
	for i := 0; i < rows; i++ {
		b.WriteString(strconv.Itoa(10000000 + i))
		b.WriteString(",Av Paulista,Bela Vista,Sao Paulo,SP\n")
	}
	path := filepath.Join(t.TempDir(), "input.csv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

func TestProcessFile(t *testing.T) {
	path := writeInputFile(t, 25)
	stub := &stubEnricher{
		fix:    map[int]bool{3: true, 17: true},
		coords: map[int]bool{0: true, 3: true, 24: true},
		fail:   map[int]bool{9: true},
	}

	p := NewProcessor(stub, WithChunkSize(10), WithWorkers(3))
	result, err := p.ProcessFile(context.Background(), path)
	require.NoError(t, err)

	assert.False(t, result.Cancelled)
	assert.Equal(t, 25, result.Stats.TotalRows)
	assert.Equal(t, 25, result.Stats.ProcessedRows)
	assert.Equal(t, 2, result.Stats.FixedCEPs)
	assert.Equal(t, 3, result.Stats.CoordinatesFound)
	require.Len(t, result.Stats.Errors, 1)
	assert.Equal(t, 9, result.Stats.Errors[0].Row)

	// Output order matches input order despite concurrent resolution.
	require.Len(t, result.Records, 25)
	for i, rec := range result.Records {
		assert.Equal(t, i, rec.RowIndex)
	}
	// The failed row is kept with its partial enrichment.
	assert.Equal(t, "10000009", result.Records[9].CorrectedCEP)
}

func TestProcessFileProgress(t *testing.T) {
	path := writeInputFile(t, 100)
	stub := &stubEnricher{}

	var processed []int
	var totals []int
	p := NewProcessor(stub,
		WithChunkSize(10),
		WithProgress(func(done, total int) {
			processed = append(processed, done)
			totals = append(totals, total)
		}),
	)

	_, err := p.ProcessFile(context.Background(), path)
	require.NoError(t, err)

	// One callback per batch, non-decreasing, ending at the full count.
	require.GreaterOrEqual(t, len(processed), 10)
	for i := 1; i < len(processed); i++ {
		assert.GreaterOrEqual(t, processed[i], processed[i-1])
	}
	assert.Equal(t, 100, processed[len(processed)-1])
	for _, total := range totals {
		assert.Equal(t, 100, total)
	}
}

func TestProcessFileCancellation(t *testing.T) {
	path := writeInputFile(t, 50)

	ctx, cancel := context.WithCancel(context.Background())
	stub := &stubEnricher{
		onCall: func(n int32, _ context.Context) {
			if n == 12 {
				cancel()
			}
		},
	}

	p := NewProcessor(stub, WithChunkSize(10), WithWorkers(1))
	result, err := p.ProcessFile(ctx, path)
	require.NoError(t, err)

	assert.True(t, result.Cancelled)
	assert.Less(t, result.Stats.ProcessedRows, 50)
	assert.Equal(t, len(result.Records), result.Stats.ProcessedRows)
	// The kept records form a contiguous prefix of the file.
	for i, rec := range result.Records {
		assert.Equal(t, i, rec.RowIndex)
	}
}

func TestProcessFileRunLog(t *testing.T) {
	path := writeInputFile(t, 5)
	rl := &stubRunLog{}
	p := NewProcessor(&stubEnricher{}, WithRunLog(rl))

	_, err := p.ProcessFile(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, "input.csv", rl.startedFile)
	assert.Equal(t, model.RunStatusCompleted, rl.finishedStatus)
	assert.Equal(t, 5, rl.finishedStats.ProcessedRows)
}

type stubRunLog struct {
	startedFile    string
	finishedStatus model.RunStatus
	finishedStats  model.RunStatistics
}

func (s *stubRunLog) StartRun(_ context.Context, filename string) (string, error) {
	s.startedFile = filename
	return "run-1", nil
}

func (s *stubRunLog) FinishRun(_ context.Context, _ string, stats model.RunStatistics, status model.RunStatus) error {
	s.finishedStats = stats
	s.finishedStatus = status
	return nil
}

func TestWriteCSV(t *testing.T) {
	lat, lon := -23.56, -46.65
	result := &Result{
		Header:    []string{"cep", "rua", "cidade", "uf"},
		Delimiter: ';',
		Records: []model.EnrichedRecord{
			{
				InputRecord:           model.InputRecord{RowIndex: 0, Raw: []string{"01310100", "av paulista", "Sao Paulo", "SP"}},
				CorrectedCEP:          "01310100",
				CorrectedStreet:       "Avenida Paulista",
				CorrectedNeighborhood: "Bela Vista",
				CorrectedMunicipality: "São Paulo",
				CorrectedState:        "SP",
				Latitude:              &lat,
				Longitude:             &lon,
			},
			{
				InputRecord:  model.InputRecord{RowIndex: 1, Raw: []string{"999", "x", "y", "z"}},
				CorrectedCEP: "999",
			},
		},
	}

	path := filepath.Join(t.TempDir(), "out.csv")
	require.NoError(t, WriteCSV(path, result))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close() //nolint:errcheck

	cr := csv.NewReader(f)
	cr.Comma = ';'
	rows, err := cr.ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, []string{
		"cep", "rua", "cidade", "uf",
		"CD_CEP_CORRETO", "NM_LOGRADOURO_CORRETO", "NM_BAIRRO_CORRETO",
		"NM_MUNICIPIO_CORRETO", "NM_UF_CORRETO", "DS_LATITUDE", "DS_LONGITUDE",
	}, rows[0])

	assert.Equal(t, "01310100", rows[1][4])
	assert.Equal(t, "Avenida Paulista", rows[1][5])
	assert.Equal(t, "-23.56", rows[1][9])
	assert.Equal(t, "-46.65", rows[1][10])

	// The unresolved row keeps its original fields and empty coordinates.
	assert.Equal(t, "999", rows[2][0])
	assert.Equal(t, "", rows[2][9])
	assert.Equal(t, "", rows[2][10])
}

func TestWriteCSVRaggedRows(t *testing.T) {
	result := &Result{
		Header:    []string{"cep", "rua", "cidade", "uf"},
		Delimiter: ',',
		Records: []model.EnrichedRecord{
			{
				InputRecord:  model.InputRecord{RowIndex: 0, Raw: []string{"01310100", "av paulista", "Sao Paulo", "SP", "extra", "fields"}},
				CorrectedCEP: "01310100",
			},
			{
				InputRecord:  model.InputRecord{RowIndex: 1, Raw: []string{"999", "x"}},
				CorrectedCEP: "999",
			},
		},
	}

	path := filepath.Join(t.TempDir(), "out.csv")
	require.NoError(t, WriteCSV(path, result))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close() //nolint:errcheck

	cr := csv.NewReader(f)
	rows, err := cr.ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)

	// Overlong and short rows are both squared off to the header width, so
	// the derived columns land at the same indices on every row.
	for _, row := range rows[1:] {
		require.Len(t, row, 11)
	}
	assert.Equal(t, "01310100", rows[1][4])
	assert.Equal(t, "999", rows[2][4])
	assert.Equal(t, "", rows[2][2])
}
