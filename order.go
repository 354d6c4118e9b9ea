package ndb

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"
)

type Direction int

const (
	Asc Direction = iota
	Desc
)

func (d Direction) String() string {
	if d == Desc {
		return "desc"
	}
	return "asc"
}

// Ordering sorts by a dot-separated field path.
type Ordering struct {
	Field string
	Dir   Direction
}

// sortObjects stably sorts objs by the orderings, the first non-tie field
// deciding. Missing and nil values sort after everything else in ascending
// order. Values of different kinds fail with ErrOrderMismatch.
func sortObjects(objs []Object, order []Ordering) error {
	var failure error
	slices.SortStableFunc(objs, func(a, b Object) int {
		if failure != nil {
			return 0
		}
		for _, o := range order {
			c, err := compareField(o.Field, a, b)
			if err != nil {
				failure = err
				return 0
			}
			if c != 0 {
				if o.Dir == Desc {
					return -c
				}
				return c
			}
		}
		return 0
	})
	return failure
}

func compareField(path string, a, b Object) (int, error) {
	va, err := lookupPath(a, path)
	if err != nil {
		return 0, err
	}
	vb, err := lookupPath(b, path)
	if err != nil {
		return 0, err
	}
	switch {
	case va == nil && vb == nil:
		return 0, nil
	case va == nil:
		return 1, nil
	case vb == nil:
		return -1, nil
	}
	return compareValues(path, va, vb)
}

func lookupPath(obj Object, path string) (any, error) {
	var cur any = obj
	for _, part := range strings.Split(path, ".") {
		switch v := cur.(type) {
		case nil:
			return nil, nil
		case map[string]any:
			cur = v[part]
		case Record:
			cur = v[part]
		default:
			return nil, fmt.Errorf("%w: %s: cannot descend into %T", ErrOrderMismatch, path, cur)
		}
	}
	return cur, nil
}

func compareValues(path string, a, b any) (int, error) {
	if ia, ok := asInt(a); ok {
		if ib, ok := asInt(b); ok {
			return cmp.Compare(ia, ib), nil
		}
	}
	if na, ok := asNumber(a); ok {
		if nb, ok := asNumber(b); ok {
			return cmp.Compare(na, nb), nil
		}
		return 0, orderMismatch(path, a, b)
	}
	switch va := a.(type) {
	case string:
		if vb, ok := b.(string); ok {
			return strings.Compare(va, vb), nil
		}
	case bool:
		if vb, ok := b.(bool); ok {
			switch {
			case va == vb:
				return 0, nil
			case va:
				return 1, nil
			default:
				return -1, nil
			}
		}
	case time.Time:
		if vb, ok := b.(time.Time); ok {
			return va.Compare(vb), nil
		}
	default:
		la, okA := asList(a)
		lb, okB := asList(b)
		if okA && okB {
			return cmp.Compare(len(la), len(lb)), nil
		}
	}
	return 0, orderMismatch(path, a, b)
}

func orderMismatch(path string, a, b any) error {
	return fmt.Errorf("%w: %s: cannot compare %T with %T", ErrOrderMismatch, path, a, b)
}

// asInt accepts integers that fit int64, which float64 can't represent
// exactly above 2^53.
func asInt(v any) (int64, bool) {
	switch v := v.(type) {
	case int:
		return int64(v), true
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint:
		return int64(v), uint64(v) <= math.MaxInt64
	case uint8:
		return int64(v), true
	case uint16:
		return int64(v), true
	case uint32:
		return int64(v), true
	case uint64:
		return int64(v), v <= math.MaxInt64
	default:
		return 0, false
	}
}

func asNumber(v any) (float64, bool) {
	switch v := v.(type) {
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}
