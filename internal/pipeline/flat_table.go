package pipeline

import (
	"context"
	"encoding/csv"
	"io"
	"os"

	"github.com/qhzhou/Kylin/pkg/config"
	"github.com/qhzhou/Kylin/pkg/cube"
	"github.com/qhzhou/Kylin/pkg/dict"
	"github.com/qhzhou/Kylin/pkg/errors"
)

// flatTableReader reads the rows of a flat table CSV.
type flatTableReader struct {
	path   string
	f      *os.File
	r      *csv.Reader
	header []string
}

// openFlatTable opens in.Path and consumes the header line if the input
// has one. An empty file has no header and no rows.
func openFlatTable(in config.InputConfig) (*flatTableReader, error) {
	f, err := os.Open(in.Path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStorage, "open flat table").WithDetail("path", in.Path)
	}
	r := csv.NewReader(f)
	r.Comma = rune(in.Delimiter[0])
	r.FieldsPerRecord = -1

	ft := &flatTableReader{path: in.Path, f: f, r: r}
	if in.HasHeader {
		header, err := r.Read()
		switch {
		case err == io.EOF:
		case err != nil:
			_ = f.Close()
			return nil, errors.Wrap(err, errors.ErrorTypeValidation, "read flat table header").WithDetail("path", in.Path)
		default:
			ft.header = header
		}
	}
	return ft, nil
}

// Read returns the next row, or io.EOF.
func (ft *flatTableReader) Read() ([]string, error) {
	row, err := ft.r.Read()
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "read flat table row").WithDetail("path", ft.path)
	}
	return row, nil
}

func (ft *flatTableReader) Close() error { return ft.f.Close() }

// layout maps flat table columns by the header, or by the cube's own
// column order when the file has none.
func (ft *flatTableReader) layout(desc *cube.Desc) (*cube.FlatTableDesc, error) {
	flat := cube.NewFlatTableDesc(desc)
	if ft.header != nil {
		flat = cube.NewFlatTableDescFromColumns(ft.header)
	}
	if err := flat.Validate(desc); err != nil {
		return nil, err
	}
	return flat, nil
}

// BuildDictionaries scans the flat table once and builds a sorted
// dictionary per dimension. It also returns the flat table layout the
// build must use.
func BuildDictionaries(ctx context.Context, desc *cube.Desc, in config.InputConfig) (map[string]dict.Dictionary, *cube.FlatTableDesc, error) {
	ft, err := openFlatTable(in)
	if err != nil {
		return nil, nil, err
	}
	defer ft.Close()

	flat, err := ft.layout(desc)
	if err != nil {
		return nil, nil, err
	}
	cols := make([]int, desc.DimensionCount())
	builders := make([]*dict.Builder, desc.DimensionCount())
	for i, d := range desc.Dimensions {
		cols[i] = flat.IndexOf(d.Column)
		builders[i] = dict.NewBuilder()
	}

	for n := 0; ; n++ {
		if n%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, nil, errors.Wrap(err, errors.ErrorTypeCancelled, "dictionary scan interrupted")
			}
		}
		row, err := ft.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		for i, c := range cols {
			if c >= len(row) {
				return nil, nil, errors.Newf(errors.ErrorTypeValidation, "flat table row %d has %d columns", n+1, len(row))
			}
			builders[i].Add(row[c])
		}
	}

	dicts := make(map[string]dict.Dictionary, len(builders))
	for i, d := range desc.Dimensions {
		dicts[d.Name] = builders[i].Build()
	}
	return dicts, flat, nil
}
