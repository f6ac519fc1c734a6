// Package sink writes computed cuboids out of the builder. Every sink
// implements inmemcubing.CuboidWriter and decodes records through the
// cuboid's grid table schema.
package sink

import (
	"fmt"
	"path/filepath"

	"github.com/retailnext/hllpp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/qhzhou/Kylin/pkg/config"
	"github.com/qhzhou/Kylin/pkg/cube"
	"github.com/qhzhou/Kylin/pkg/errors"
	"github.com/qhzhou/Kylin/pkg/gridtable"
	stringpool "github.com/qhzhou/Kylin/pkg/strings"
)

// Sink receives the rows of computed cuboids. Close flushes and releases
// everything the sink opened; no Write may follow it.
type Sink interface {
	Write(cuboidID int64, rec *gridtable.GTRecord) error
	Close() error
}

// New returns the file sink for format, writing under dir.
func New(format, dir string, desc *cube.Desc, log *zap.Logger) (Sink, error) {
	switch format {
	case config.FormatCSV:
		return NewCSVSink(dir, desc, log)
	case config.FormatJSON:
		return NewJSONSink(filepath.Join(dir, desc.Name+".jsonl"), desc, log)
	case config.FormatArrow:
		return NewArrowSink(dir, desc, log)
	case config.FormatAvro:
		return NewAvroSink(dir, desc, log)
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unknown output format %q", format)
	}
}

// cuboidFileName is the per-cuboid file of a directory sink.
func cuboidFileName(desc *cube.Desc, cuboidID int64, ext string) string {
	return fmt.Sprintf("%s_cuboid_%d.%s", desc.Name, cuboidID, ext)
}

// displayValue converts a decoded cell to a plain value: HLL counters
// become their estimate and decimals keep their exact text.
func displayValue(v interface{}) interface{} {
	switch x := v.(type) {
	case *hllpp.HLLPP:
		return x.Count()
	case decimal.Decimal:
		return x.String()
	default:
		return v
	}
}

// formatValue renders a decoded cell as text; null is empty.
func formatValue(v interface{}) string {
	return stringpool.ValueToString(displayValue(v))
}

// decode returns every cell of rec as display values.
func decode(rec *gridtable.GTRecord) ([]interface{}, error) {
	vals, err := rec.Values(rec.Info().AllColumns())
	if err != nil {
		return nil, err
	}
	for i, v := range vals {
		vals[i] = displayValue(v)
	}
	return vals, nil
}
