package store

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"

	"github.com/zqguo/mps"
)

const (
	// FnameShape holds the comma separated leg dimensions of one tensor.
	FnameShape = "shape.csv"
	// FnameCOO holds the nonzero entries as value,indices... rows.
	FnameCOO = "coo.csv"
)

// Export writes every tensor of the chain in coordinate format under dir,
// one subdirectory per site plus "lambda" for the center diagonal. The
// layout is loadable by numpy style tooling.
func Export(dir string, m *mps.MPS) error {
	for i := 0; i < m.Len(); i++ {
		t := m.Tensor(i)
		sub := filepath.Join(dir, fmt.Sprintf("m%d", i))
		if err := writeCOO(sub, t.Shape(), t.Data()); err != nil {
			return errors.Wrap(err, fmt.Sprintf("site %d", i))
		}
	}
	if lambda := m.Lambda(); lambda != nil {
		sub := filepath.Join(dir, "lambda")
		if err := writeCOO(sub, []int{lambda.Dim()}, lambda.Data()); err != nil {
			return errors.Wrap(err, "lambda")
		}
	}
	return nil
}

// ReadCOO loads one exported tensor directory back into a dense row-major
// buffer and its shape.
func ReadCOO(dir string) ([]float64, []int, error) {
	shapeRows, err := readCSV(filepath.Join(dir, FnameShape))
	if err != nil {
		return nil, nil, errors.Wrap(err, "")
	}
	if len(shapeRows) != 1 {
		return nil, nil, errors.Errorf("%d shape rows", len(shapeRows))
	}
	shape := make([]int, 0, len(shapeRows[0]))
	size := 1
	for _, s := range shapeRows[0] {
		d, err := strconv.Atoi(s)
		if err != nil {
			return nil, nil, errors.Wrap(err, "")
		}
		shape = append(shape, d)
		size *= d
	}

	rows, err := readCSV(filepath.Join(dir, FnameCOO))
	if err != nil {
		return nil, nil, errors.Wrap(err, "")
	}
	data := make([]float64, size)
	for _, row := range rows {
		if len(row) != len(shape)+1 {
			return nil, nil, errors.Errorf("row %#v for shape %v", row, shape)
		}
		v, err := strconv.ParseFloat(row[0], 64)
		if err != nil {
			return nil, nil, errors.Wrap(err, "")
		}
		flat := 0
		for ax, s := range row[1:] {
			i, err := strconv.Atoi(s)
			if err != nil {
				return nil, nil, errors.Wrap(err, "")
			}
			if i < 0 || i >= shape[ax] {
				return nil, nil, errors.Errorf("index %d on axis %d of %v", i, ax, shape)
			}
			flat = flat*shape[ax] + i
		}
		data[flat] = v
	}
	return data, shape, nil
}

func readCSV(fname string) ([][]string, error) {
	f, err := os.Open(fname)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	return rows, nil
}

func writeCOO(dir string, shape []int, data []float64) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "")
	}

	shapeStrs := make([]string, 0, len(shape))
	for _, d := range shape {
		shapeStrs = append(shapeStrs, strconv.Itoa(d))
	}
	shapeF, err := os.Create(filepath.Join(dir, FnameShape))
	if err != nil {
		return errors.Wrap(err, "")
	}
	w := csv.NewWriter(shapeF)
	if err1 := w.Write(shapeStrs); err1 != nil && err == nil {
		err = errors.Wrap(err1, "")
	}
	w.Flush()
	if err1 := w.Error(); err1 != nil && err == nil {
		err = errors.Wrap(err1, "")
	}
	if err1 := shapeF.Close(); err1 != nil && err == nil {
		err = errors.Wrap(err1, "")
	}
	if err != nil {
		return err
	}

	cooF, err := os.Create(filepath.Join(dir, FnameCOO))
	if err != nil {
		return errors.Wrap(err, "")
	}
	w = csv.NewWriter(cooF)
	ix := make([]int, len(shape))
	for flat, v := range data {
		if v != 0 {
			record := make([]string, 0, len(shape)+1)
			record = append(record, strconv.FormatFloat(v, 'g', -1, 64))
			for _, i := range unflatten(ix, flat, shape) {
				record = append(record, strconv.Itoa(i))
			}
			if err1 := w.Write(record); err1 != nil && err == nil {
				err = errors.Wrap(err1, "")
				break
			}
		}
	}
	w.Flush()
	if err1 := w.Error(); err1 != nil && err == nil {
		err = errors.Wrap(err1, "")
	}
	if err1 := cooF.Close(); err1 != nil && err == nil {
		err = errors.Wrap(err1, "")
	}
	return err
}

// unflatten fills ix with the row-major multi index of flat.
func unflatten(ix []int, flat int, shape []int) []int {
	for ax := len(shape) - 1; ax >= 0; ax-- {
		ix[ax] = flat % shape[ax]
		flat /= shape[ax]
	}
	return ix
}
