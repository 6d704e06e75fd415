// Package dataset reads a party's local training partition.
//
// A partition file holds one sample per line with comma-separated real
// values. For the label holder the last column is the class label.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// DefaultTrainFraction is the leading share of samples used for training.
const DefaultTrainFraction = 0.8

var (
	// ErrEmpty indicates a partition without samples or features.
	ErrEmpty = errors.New("dataset: partition is empty")

	// ErrMalformed indicates a line that cannot be parsed.
	ErrMalformed = errors.New("dataset: malformed partition")
)

// Partition is the local slice of the training data.
type Partition struct {
	// X holds one row per sample and one column per feature.
	X *mat.Dense
	// Labels is nil unless the partition was read as label holder.
	Labels []float64
}

// Path returns the partition file of party under root:
// root/dataset/client_<party>.txt.
func Path(root, dataset string, party int) string {
	return filepath.Join(root, dataset, fmt.Sprintf("client_%d.txt", party))
}

// Load reads the partition file at path.
func Load(path string, labelHolder bool) (*Partition, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dataset: open %s: %w", path, err)
	}
	defer f.Close()

	p, err := Read(f, labelHolder)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Read parses a partition. All lines must have the same number of fields.
func Read(r io.Reader, labelHolder bool) (*Partition, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	var (
		data   []float64
		labels []float64
		rows   int
		cols   int
	)
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
		}
		if rows == 0 {
			cols = len(rec)
			if labelHolder {
				cols--
			}
			if cols < 1 {
				return nil, fmt.Errorf("%w: no feature columns", ErrEmpty)
			}
		}
		for j, field := range rec {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				line, _ := cr.FieldPos(j)
				return nil, fmt.Errorf("%w: line %d column %d: %w", ErrMalformed, line, j+1, err)
			}
			if labelHolder && j == cols {
				labels = append(labels, v)
			} else {
				data = append(data, v)
			}
		}
		rows++
	}
	if rows == 0 {
		return nil, ErrEmpty
	}
	return &Partition{X: mat.NewDense(rows, cols, data), Labels: labels}, nil
}

// Samples returns the number of rows.
func (p *Partition) Samples() int {
	r, _ := p.X.Dims()
	return r
}

// Features returns the number of feature columns.
func (p *Partition) Features() int {
	_, c := p.X.Dims()
	return c
}

// TrainingRows returns how many leading samples fraction selects, truncated
// like an integer conversion.
func TrainingRows(samples int, fraction float64) int {
	return int(float64(samples) * fraction)
}

// Head returns a view of the first n samples. It shares storage with p.
func (p *Partition) Head(n int) (*Partition, error) {
	if n < 1 || n > p.Samples() {
		return nil, fmt.Errorf("dataset: cannot take %d of %d samples", n, p.Samples())
	}
	head := &Partition{X: p.X.Slice(0, n, 0, p.Features()).(*mat.Dense)}
	if p.Labels != nil {
		head.Labels = p.Labels[:n]
	}
	return head, nil
}

// Column returns a copy of feature j across all samples.
func (p *Partition) Column(j int) []float64 {
	return mat.Col(nil, j, p.X)
}

// RowMajor returns all feature values sample by sample.
func (p *Partition) RowMajor() []float64 {
	rows, cols := p.X.Dims()
	out := make([]float64, 0, rows*cols)
	for i := 0; i < rows; i++ {
		out = append(out, p.X.RawRowView(i)...)
	}
	return out
}
