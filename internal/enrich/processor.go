package enrich

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/geografi/enrich-cli/internal/model"
)

// DefaultWorkers is the number of records resolved concurrently per batch.
// The shared client rate limiters cap the actual request rate regardless.
const DefaultWorkers = 3

// derivedColumns are appended after the original columns in the output.
var derivedColumns = []string{
	"CD_CEP_CORRETO",
	"NM_LOGRADOURO_CORRETO",
	"NM_BAIRRO_CORRETO",
	"NM_MUNICIPIO_CORRETO",
	"NM_UF_CORRETO",
	"DS_LATITUDE",
	"DS_LONGITUDE",
}

// Enricher resolves one record. Satisfied by RecordEnricher.
type Enricher interface {
	Enrich(ctx context.Context, rec model.InputRecord) (model.EnrichedRecord, model.ResolutionOutcome, error)
}

// RunLog records processing runs for later inspection. Satisfied by
// store.Store; nil disables run logging.
type RunLog interface {
	StartRun(ctx context.Context, filename string) (string, error)
	FinishRun(ctx context.Context, id string, stats model.RunStatistics, status model.RunStatus) error
}

// ProgressFunc observes processing progress. Called after every completed
// batch with the number of rows handled so far and the total.
type ProgressFunc func(processed, total int)

// Result is the outcome of a full processing run.
type Result struct {
	Header       []string
	Delimiter    rune
	EncodingName string
	Records      []model.EnrichedRecord
	Stats        model.RunStatistics
	Cancelled    bool
}

// Processor drives the batch pipeline: read a chunk, resolve its records
// concurrently, fold the outcomes into the statistics, repeat. Memory use is
// bounded by the chunk size plus the accumulated output records.
type Processor struct {
	enricher  Enricher
	chunkSize int
	workers   int
	progress  ProgressFunc
	runLog    RunLog
	log       *zap.Logger
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithChunkSize sets the batch row count.
func WithChunkSize(n int) ProcessorOption {
	return func(p *Processor) {
		if n > 0 {
			p.chunkSize = n
		}
	}
}

// WithWorkers sets per-batch concurrency.
func WithWorkers(n int) ProcessorOption {
	return func(p *Processor) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithProgress installs a progress callback.
func WithProgress(fn ProgressFunc) ProcessorOption {
	return func(p *Processor) { p.progress = fn }
}

// WithRunLog records the run in the given log.
func WithRunLog(rl RunLog) ProcessorOption {
	return func(p *Processor) { p.runLog = rl }
}

// NewProcessor builds a Processor around the given enricher.
func NewProcessor(enricher Enricher, opts ...ProcessorOption) *Processor {
	p := &Processor{
		enricher:  enricher,
		chunkSize: DefaultChunkSize,
		workers:   DefaultWorkers,
		log:       zap.L().Named("processor"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ProcessFile runs the full pipeline over one input file. Cancellation stops
// between records: the result keeps every record whose resolution finished
// before the cut, and Cancelled is set instead of returning ctx.Err.
func (p *Processor) ProcessFile(ctx context.Context, path string) (*Result, error) {
	reader, err := OpenFile(path, p.chunkSize)
	if err != nil {
		return nil, err
	}
	defer reader.Close() //nolint:errcheck

	runID := p.startRun(ctx, path)

	result := &Result{
		Header:       reader.Header(),
		Delimiter:    reader.Delimiter(),
		EncodingName: reader.EncodingName(),
		Records:      make([]model.EnrichedRecord, 0, reader.TotalRows()),
	}
	result.Stats.TotalRows = reader.TotalRows()

	p.log.Info("processing started",
		zap.String("file", path),
		zap.Int("total_rows", result.Stats.TotalRows),
		zap.Int("chunk_size", p.chunkSize),
		zap.Int("workers", p.workers),
	)

	for {
		chunk, readErr := reader.ReadChunk()
		if readErr != nil && readErr != io.EOF {
			p.finishRun(runID, result.Stats, model.RunStatusFailed)
			return nil, readErr
		}

		if len(chunk) > 0 {
			cancelled := p.processChunk(ctx, chunk, result)
			if p.progress != nil {
				p.progress(result.Stats.ProcessedRows, result.Stats.TotalRows)
			}
			if cancelled {
				result.Cancelled = true
				p.finishRun(runID, result.Stats, model.RunStatusCancelled)
				p.log.Warn("processing cancelled",
					zap.Int("processed", result.Stats.ProcessedRows),
					zap.Int("total", result.Stats.TotalRows),
				)
				return result, nil
			}
		}

		if readErr == io.EOF {
			break
		}
	}

	p.finishRun(runID, result.Stats, model.RunStatusCompleted)
	p.log.Info("processing completed",
		zap.Int("processed", result.Stats.ProcessedRows),
		zap.Int("fixed_ceps", result.Stats.FixedCEPs),
		zap.Int("coordinates_found", result.Stats.CoordinatesFound),
		zap.Int("errors", len(result.Stats.Errors)),
	)
	return result, nil
}

type chunkSlot struct {
	record  model.EnrichedRecord
	outcome model.ResolutionOutcome
	err     error
	done    bool
}

// processChunk resolves one batch concurrently and folds the completed
// prefix into the result. Returns true when the context was cancelled;
// records still in flight at that point are discarded so the kept records
// always form a contiguous prefix of the file.
func (p *Processor) processChunk(ctx context.Context, chunk []model.InputRecord, result *Result) bool {
	slots := make([]chunkSlot, len(chunk))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	for i, rec := range chunk {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			record, outcome, err := p.enricher.Enrich(gctx, rec)
			if gctx.Err() != nil {
				return nil
			}
			slots[i] = chunkSlot{record: record, outcome: outcome, err: err, done: true}
			return nil
		})
	}
	_ = g.Wait()

	cancelled := ctx.Err() != nil
	for i := range slots {
		if !slots[i].done {
			// A gap means everything after it was in flight at cancellation.
			break
		}
		result.Records = append(result.Records, slots[i].record)
		result.Stats.Apply(slots[i].outcome)
		if slots[i].err != nil {
			result.Stats.AddError(slots[i].record.RowIndex, eris.ToString(slots[i].err, false))
		}
	}
	return cancelled
}

func (p *Processor) startRun(ctx context.Context, path string) string {
	if p.runLog == nil {
		return ""
	}
	id, err := p.runLog.StartRun(ctx, filepath.Base(path))
	if err != nil {
		p.log.Warn("run log unavailable", zap.Error(err))
		return ""
	}
	return id
}

func (p *Processor) finishRun(id string, stats model.RunStatistics, status model.RunStatus) {
	if p.runLog == nil || id == "" {
		return
	}
	// The run log must outlive the (possibly cancelled) processing context.
	if err := p.runLog.FinishRun(context.Background(), id, stats, status); err != nil {
		p.log.Warn("run log update failed", zap.Error(err))
	}
}

// WriteCSV writes the enriched table: the original columns exactly as read,
// then the derived columns, using the same delimiter as the input.
func WriteCSV(path string, result *Result) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "create %s", path)
	}
	defer f.Close() //nolint:errcheck

	w := csv.NewWriter(f)
	w.Comma = result.Delimiter

	header := make([]string, 0, len(result.Header)+len(derivedColumns))
	header = append(header, result.Header...)
	header = append(header, derivedColumns...)
	if err := w.Write(header); err != nil {
		return eris.Wrap(err, "write header")
	}

	row := make([]string, 0, len(header))
	for i := range result.Records {
		rec := &result.Records[i]
		row = row[:0]
		// Ragged rows are padded or truncated to the header width so the
		// derived columns stay aligned.
		raw := rec.Raw
		if len(raw) > len(result.Header) {
			raw = raw[:len(result.Header)]
		}
		row = append(row, raw...)
		for len(row) < len(result.Header) {
			row = append(row, "")
		}
		row = append(row,
			rec.CorrectedCEP,
			rec.CorrectedStreet,
			rec.CorrectedNeighborhood,
			rec.CorrectedMunicipality,
			rec.CorrectedState,
			formatCoordinate(rec.Latitude),
			formatCoordinate(rec.Longitude),
		)
		if err := w.Write(row); err != nil {
			return eris.Wrapf(err, "write row %d", rec.RowIndex)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return eris.Wrap(err, "flush output")
	}
	return f.Sync()
}

func formatCoordinate(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
