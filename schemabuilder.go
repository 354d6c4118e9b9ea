package ndb

type TypeBuilder struct {
	cfg *TypeConfig
}

type TargetBuilder struct {
	t *Target
}

// Define adds a type to the schema. The builder func may be nil for a plain
// type keyed by DefaultKeyField.
func (scm *Schema) Define(name string, f func(b *TypeBuilder)) *TypeConfig {
	cfg := &TypeConfig{
		Name:     name,
		KeyField: DefaultKeyField,
		Targets:  make(map[string]*Target),
	}
	if f != nil {
		f(&TypeBuilder{cfg})
	}
	scm.addType(cfg)
	return cfg
}

func (b *TypeBuilder) Key(field string) *TypeBuilder {
	b.cfg.KeyField = field
	return b
}

func (b *TypeBuilder) AutoKey() *TypeBuilder {
	b.cfg.AutoKey = true
	return b
}

// One declares a scalar relation field.
func (b *TypeBuilder) One(field, typ string) *TargetBuilder {
	return b.target(field, typ, false)
}

// Many declares an array relation field.
func (b *TypeBuilder) Many(field, typ string) *TargetBuilder {
	return b.target(field, typ, true)
}

func (b *TypeBuilder) target(field, typ string, isArray bool) *TargetBuilder {
	t := &Target{Type: typ, IsArray: isArray}
	b.cfg.Targets[field] = t
	return &TargetBuilder{t}
}

// Cascade makes removing the owner also remove the referenced records.
func (tb *TargetBuilder) Cascade() *TargetBuilder {
	tb.t.CascadeRemoval = true
	return tb
}
