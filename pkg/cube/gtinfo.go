package cube

import (
	"fmt"

	"github.com/qhzhou/Kylin/pkg/dict"
	"github.com/qhzhou/Kylin/pkg/errors"
	"github.com/qhzhou/Kylin/pkg/gridtable"
	"github.com/qhzhou/Kylin/pkg/measure"
)

// NewGTInfo returns the grid table schema of a cuboid: its dimensions in
// dimension order, keyed and stored in one column block, then every
// measure in a second block. dicts maps dimension names to dictionaries.
func NewGTInfo(desc *Desc, cuboidID int64, dicts map[string]dict.Dictionary, rowBlockSize int) (*gridtable.GTInfo, error) {
	dims := desc.CuboidDimensions(cuboidID)
	if len(dims) == 0 {
		return nil, errors.Newf(errors.ErrorTypeValidation, "cuboid %d keeps no dimension", cuboidID)
	}

	dimDicts := make([]dict.Dictionary, len(dims))
	types := make([]measure.DataType, 0, len(dims)+desc.MeasureCount())
	for i, d := range dims {
		name := desc.Dimensions[d].Name
		dd, ok := dicts[name]
		if !ok {
			return nil, errors.Newf(errors.ErrorTypeValidation, "no dictionary for dimension %s", name)
		}
		dimDicts[i] = dd
		types = append(types, measure.DataType{Name: "varchar", Precision: dd.SizeOfID()})
	}
	types = append(types, desc.MeasureTypes()...)

	pk := gridtable.BitSetRange(0, len(dims))
	return gridtable.NewInfoBuilder().
		SetTableName(fmt.Sprintf("%s_cuboid_%d", desc.Name, cuboidID)).
		SetCodeSystem(NewCodeSystem(dimDicts)).
		SetColumns(types...).
		SetPrimaryKey(pk).
		SetColumnBlocks(pk, gridtable.BitSetRange(len(dims), len(types))).
		SetRowBlockSize(rowBlockSize).
		Build()
}

// MetricColumns returns the metric columns of a cuboid grid table.
func MetricColumns(info *gridtable.GTInfo) gridtable.ImmutableBitSet {
	return info.AllColumns().AndNot(info.PrimaryKey())
}

// ChildColumns maps the columns of a child cuboid's grid table onto the
// columns of its parent's: element i is the parent column of child column i.
func ChildColumns(desc *Desc, parentID, childID int64) ([]int, error) {
	if childID&^parentID != 0 {
		return nil, errors.Newf(errors.ErrorTypeValidation, "cuboid %d is not a subset of %d", childID, parentID)
	}
	parentDims := desc.CuboidDimensions(parentID)
	childDims := desc.CuboidDimensions(childID)

	mapping := make([]int, 0, len(childDims)+desc.MeasureCount())
	p := 0
	for _, d := range childDims {
		for parentDims[p] != d {
			p++
		}
		mapping = append(mapping, p)
	}
	for m := 0; m < desc.MeasureCount(); m++ {
		mapping = append(mapping, len(parentDims)+m)
	}
	return mapping, nil
}
