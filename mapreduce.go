package ndb

import "context"

// Map runs q and transforms every item of the resulting page.
func Map[T any](ctx context.Context, q *Query, f func(obj Object, i int) (T, error)) (*ListResult[T], error) {
	res, err := q.List(ctx)
	if err != nil {
		return nil, err
	}
	out := &ListResult[T]{
		Items:  make([]T, 0, len(res.Items)),
		Total:  res.Total,
		Offset: res.Offset,
		Limit:  res.Limit,
	}
	for i, obj := range res.Items {
		v, err := f(obj, i)
		if err != nil {
			return nil, err
		}
		out.Items = append(out.Items, v)
	}
	return out, nil
}

// Reduce runs q and folds the resulting page into a single value.
func Reduce[R any](ctx context.Context, q *Query, f func(acc R, obj Object, i int) (R, error), initial R) (R, error) {
	res, err := q.List(ctx)
	if err != nil {
		return initial, err
	}
	acc := initial
	for i, obj := range res.Items {
		acc, err = f(acc, obj, i)
		if err != nil {
			return acc, err
		}
	}
	return acc, nil
}
