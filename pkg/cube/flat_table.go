package cube

import (
	"strings"

	"github.com/qhzhou/Kylin/pkg/errors"
)

// FlatTableDesc is the column layout of the flat fact rows fed to a build.
type FlatTableDesc struct {
	Columns []string
	index   map[string]int
}

// NewFlatTableDesc lays out the flat table of desc: every dimension column,
// then every measure column not already present.
func NewFlatTableDesc(desc *Desc) *FlatTableDesc {
	var cols []string
	seen := make(map[string]bool)
	add := func(c string) {
		if !seen[strings.ToUpper(c)] {
			seen[strings.ToUpper(c)] = true
			cols = append(cols, c)
		}
	}
	for _, d := range desc.Dimensions {
		add(d.Column)
	}
	for _, m := range desc.Measures {
		for _, p := range m.Function.Parameters {
			if strings.EqualFold(p.Type, ParamColumn) {
				add(p.Value)
			}
		}
	}
	return NewFlatTableDescFromColumns(cols)
}

// NewFlatTableDescFromColumns uses an explicit layout, such as a CSV header.
// Column names match case-insensitively.
func NewFlatTableDescFromColumns(cols []string) *FlatTableDesc {
	f := &FlatTableDesc{Columns: cols, index: make(map[string]int, len(cols))}
	for i, c := range cols {
		f.index[strings.ToUpper(strings.TrimSpace(c))] = i
	}
	return f
}

// IndexOf returns the position of column, or -1.
func (f *FlatTableDesc) IndexOf(column string) int {
	if i, ok := f.index[strings.ToUpper(strings.TrimSpace(column))]; ok {
		return i
	}
	return -1
}

// Validate checks that every column desc reads is present.
func (f *FlatTableDesc) Validate(desc *Desc) error {
	for _, d := range desc.Dimensions {
		if f.IndexOf(d.Column) < 0 {
			return errors.Newf(errors.ErrorTypeValidation, "flat table lacks column %s of dimension %s", d.Column, d.Name)
		}
	}
	for _, m := range desc.Measures {
		for _, p := range m.Function.Parameters {
			if strings.EqualFold(p.Type, ParamColumn) && f.IndexOf(p.Value) < 0 {
				return errors.Newf(errors.ErrorTypeValidation, "flat table lacks column %s of measure %s", p.Value, m.Name)
			}
		}
	}
	return nil
}
