package ndb

// RecordReader is the read side of a transaction as seen by a Denormalizer.
type RecordReader interface {
	Get(typ string, key any) (Record, error)
}

// Denormalizer rebuilds an object graph from a flat record.
type Denormalizer interface {
	Denormalize(r RecordReader, typ string, rec Record, depth int) (Object, error)
}

type graphDenormalizer struct {
	schema *Schema
}

// NewDenormalizer returns the schema-driven denormalizer. Relation fields are
// replaced by the referenced records down to depth levels; depth 0 yields the
// flat record. Reverse references are never included, and a key whose record
// does not exist is left in place.
func NewDenormalizer(scm *Schema) Denormalizer {
	return graphDenormalizer{scm}
}

func (d graphDenormalizer) Denormalize(r RecordReader, typ string, rec Record, depth int) (Object, error) {
	if rec == nil {
		return nil, nil
	}
	obj := rec.Fields()
	cfg := d.schema.Config(typ)
	if depth <= 0 || cfg == nil {
		return obj, nil
	}
	for field, t := range cfg.Targets {
		switch v := obj[field].(type) {
		case nil:
		case []any:
			list := make([]any, len(v))
			for i, key := range v {
				child, err := d.child(r, t, key, depth)
				if err != nil {
					return nil, err
				}
				list[i] = child
			}
			obj[field] = list
		default:
			child, err := d.child(r, t, v, depth)
			if err != nil {
				return nil, err
			}
			obj[field] = child
		}
	}
	return obj, nil
}

func (d graphDenormalizer) child(r RecordReader, t *Target, key any, depth int) (any, error) {
	rec, err := r.Get(t.Type, key)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return key, nil
	}
	return d.Denormalize(r, t.Type, rec, depth-1)
}
