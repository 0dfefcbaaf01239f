package enrich

import (
	"encoding/csv"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/geografi/enrich-cli/internal/model"
)

// DefaultChunkSize is the number of rows held in memory per batch.
const DefaultChunkSize = 1000

// FileReader streams a delimited text file in bounded-size batches. Encoding
// and delimiter are detected from a leading sample; the total row count is
// computed up front in a dedicated pass to support percentage progress.
type FileReader struct {
	path      string
	chunkSize int

	encoding  EncodingGuess
	delimiter rune
	header    []string
	cols      columnIndex
	totalRows int

	file     *os.File
	csv      *csv.Reader
	rowIndex int
}

// OpenFile prepares a reader: detects encoding and delimiter, counts rows,
// reads the header, and resolves the address columns. Structural problems
// (unreadable file, missing required columns) surface here, before any
// record is processed.
func OpenFile(path string, chunkSize int) (*FileReader, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	sample, err := readSample(path, encodingSampleSize)
	if err != nil {
		return nil, err
	}

	r := &FileReader{path: path, chunkSize: chunkSize}
	r.encoding = DetectEncoding(sample)

	decodedSample, err := decodeSample(sample, r.encoding)
	if err != nil {
		return nil, eris.Wrap(err, "decode sample")
	}
	r.delimiter = DetectDelimiter(decodedSample)

	zap.L().Info("input file detected",
		zap.String("path", path),
		zap.String("encoding", r.encoding.Name),
		zap.Float64("confidence", r.encoding.Confidence),
		zap.String("delimiter", string(r.delimiter)),
	)

	if err := r.countRows(); err != nil {
		return nil, err
	}

	if err := r.openStream(); err != nil {
		return nil, err
	}
	return r, nil
}

func readSample(path string, n int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "open %s", path)
	}
	defer f.Close() //nolint:errcheck

	buf := make([]byte, n)
	read, err := io.ReadFull(f, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, eris.Wrapf(err, "read sample from %s", path)
	}
	return buf[:read], nil
}

func decodeSample(sample []byte, guess EncodingGuess) (string, error) {
	decoded, err := guess.Encoding.NewDecoder().Bytes(sample)
	if err != nil {
		// The chosen decoders replace rather than fail; keep the raw bytes
		// if one misbehaves anyway.
		return string(sample), nil
	}
	return string(decoded), nil
}

func (r *FileReader) newCSVReader(f *os.File) *csv.Reader {
	decoded := r.encoding.Encoding.NewDecoder().Reader(f)
	cr := csv.NewReader(decoded)
	cr.Comma = r.delimiter
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true
	return cr
}

// countRows runs the dedicated counting pass, excluding the header.
func (r *FileReader) countRows() error {
	f, err := os.Open(r.path)
	if err != nil {
		return eris.Wrapf(err, "open %s", r.path)
	}
	defer f.Close() //nolint:errcheck

	cr := r.newCSVReader(f)
	count := 0
	for {
		_, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return eris.Wrap(err, "count rows")
		}
		count++
	}
	if count > 0 {
		count-- // header
	}
	r.totalRows = count
	return nil
}

func (r *FileReader) openStream() error {
	f, err := os.Open(r.path)
	if err != nil {
		return eris.Wrapf(err, "open %s", r.path)
	}

	cr := r.newCSVReader(f)
	header, err := cr.Read()
	if err != nil {
		f.Close() //nolint:errcheck
		if err == io.EOF {
			return eris.Wrapf(ErrColumnsMissing, "empty file %s", r.path)
		}
		return eris.Wrap(err, "read header")
	}

	cols, err := ResolveColumns(header)
	if err != nil {
		f.Close() //nolint:errcheck
		return err
	}

	r.file = f
	r.csv = cr
	r.header = header
	r.cols = cols
	return nil
}

// TotalRows is the data row count, header excluded.
func (r *FileReader) TotalRows() int { return r.totalRows }

// Header returns the original header row as decoded.
func (r *FileReader) Header() []string { return r.header }

// Delimiter returns the detected field delimiter.
func (r *FileReader) Delimiter() rune { return r.delimiter }

// EncodingName returns the detected encoding's name.
func (r *FileReader) EncodingName() string { return r.encoding.Name }

// ReadChunk returns the next batch of at most chunkSize records. The final
// batch is returned together with io.EOF; an empty file yields (nil, io.EOF).
func (r *FileReader) ReadChunk() ([]model.InputRecord, error) {
	chunk := make([]model.InputRecord, 0, r.chunkSize)
	for len(chunk) < r.chunkSize {
		row, err := r.csv.Read()
		if err == io.EOF {
			return chunk, io.EOF
		}
		if err != nil {
			return chunk, eris.Wrapf(err, "read row %d", r.rowIndex)
		}
		chunk = append(chunk, r.toRecord(row))
		r.rowIndex++
	}
	return chunk, nil
}

func (r *FileReader) toRecord(row []string) model.InputRecord {
	field := func(idx int) string {
		if idx < 0 || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}
	return model.InputRecord{
		RowIndex:     r.rowIndex,
		Raw:          row,
		CEP:          field(r.cols.CEP),
		Street:       field(r.cols.Street),
		Neighborhood: field(r.cols.Neighborhood),
		Municipality: field(r.cols.Municipality),
		State:        field(r.cols.State),
	}
}

// Close releases the underlying file.
func (r *FileReader) Close() error {
	if r.file == nil {
		return nil
	}
	return r.file.Close()
}
