// Package dataset ingests delimited text into an immutable in-memory table
// and derives the schema used to ground query generation.
package dataset

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
)

var (
	// ErrTooLarge is returned when the input exceeds LoadOptions.MaxBytes.
	ErrTooLarge = errors.New("dataset exceeds size limit")
	// ErrMalformed covers empty input, missing headers and ragged rows.
	ErrMalformed = errors.New("malformed dataset")
)

var candidateDelimiters = []rune{',', ';', '\t', '|'}

// LoadOptions configures Load.
type LoadOptions struct {
	Name      string
	MaxBytes  int64
	Delimiter rune // zero means sniff from the header line
}

// Dataset is a loaded table. It is never mutated after Load returns.
type Dataset struct {
	Name     string
	Columns  []string
	Rows     [][]string
	LoadedAt time.Time
}

// NumRows returns the number of data rows.
func (d *Dataset) NumRows() int { return len(d.Rows) }

// Load reads a delimited text table with a header row.
func Load(r io.Reader, opts LoadOptions) (*Dataset, error) {
	if opts.MaxBytes <= 0 {
		return nil, errors.New("max bytes must be positive")
	}
	data, err := io.ReadAll(io.LimitReader(r, opts.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}
	if int64(len(data)) > opts.MaxBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, opts.MaxBytes)
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: no header row", ErrMalformed)
	}

	delim := opts.Delimiter
	if delim == 0 {
		delim = sniffDelimiter(data)
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = delim

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: read header: %w", ErrMalformed, err)
	}

	var rows [][]string
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
		}
		rows = append(rows, row)
	}

	return &Dataset{
		Name:     opts.Name,
		Columns:  normalizeHeader(header),
		Rows:     rows,
		LoadedAt: time.Now().UTC(),
	}, nil
}

// sniffDelimiter picks the candidate occurring most often in the header line.
func sniffDelimiter(data []byte) rune {
	line := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		line = data[:i]
	}
	best, bestCount := ',', 0
	for _, c := range candidateDelimiters {
		if n := strings.Count(string(line), string(c)); n > bestCount {
			best, bestCount = c, n
		}
	}
	return best
}

// normalizeHeader trims names, fills blanks and makes names unique under case
// folding, since the query engine resolves identifiers case-insensitively.
func normalizeHeader(header []string) []string {
	out := make([]string, len(header))
	seen := make(map[string]bool, len(header))
	for i, h := range header {
		name := strings.TrimSpace(h)
		if name == "" {
			name = "column_" + strconv.Itoa(i+1)
		}
		candidate := name
		for k := 2; seen[FoldName(candidate)]; k++ {
			candidate = name + "_" + strconv.Itoa(k)
		}
		seen[FoldName(candidate)] = true
		out[i] = candidate
	}
	return out
}

// FoldName is the case-folding policy for identifier matching.
func FoldName(s string) string {
	return cases.Fold().String(s)
}
