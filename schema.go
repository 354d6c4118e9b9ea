package ndb

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// DefaultKeyField is the key field of types that don't declare one.
const DefaultKeyField = "id"

// Schema holds static relation metadata: per type, its key field, whether
// keys are assigned by the backend, and the fields that reference other types.
type Schema struct {
	types map[string]*TypeConfig
	names []string
}

type TypeConfig struct {
	Name     string
	KeyField string
	AutoKey  bool
	Targets  map[string]*Target
}

// Target declares that a field holds the key (or, when IsArray, a list of
// keys) of records of another type.
type Target struct {
	Type           string
	IsArray        bool
	CascadeRemoval bool
}

// Referrer is a (type, field) pair whose target is some other type.
type Referrer struct {
	Type   string
	Field  string
	Target *Target
}

func NewSchema() *Schema {
	return &Schema{types: make(map[string]*TypeConfig)}
}

func (scm *Schema) addType(cfg *TypeConfig) {
	if scm.types == nil {
		scm.types = make(map[string]*TypeConfig)
	}
	if cfg.Name == "" || strings.HasPrefix(cfg.Name, "_") {
		panic(fmt.Errorf("invalid type name %q", cfg.Name))
	}
	if scm.types[cfg.Name] != nil {
		panic(fmt.Errorf("type %q defined twice", cfg.Name))
	}
	scm.types[cfg.Name] = cfg
	scm.names = append(scm.names, cfg.Name)
}

func (scm *Schema) HasType(name string) bool {
	return scm.types[name] != nil
}

// Config returns the configuration of the given type, or nil if the type is unknown.
func (scm *Schema) Config(name string) *TypeConfig {
	return scm.types[name]
}

func (scm *Schema) config(name string) (*TypeConfig, error) {
	cfg := scm.types[name]
	if cfg == nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidType, name)
	}
	return cfg, nil
}

// Types returns type names in definition order.
func (scm *Schema) Types() []string {
	return slices.Clone(scm.names)
}

func (scm *Schema) Target(typ, field string) *Target {
	cfg := scm.types[typ]
	if cfg == nil {
		return nil
	}
	return cfg.Targets[field]
}

// Referrers lists every declared relation field whose target is typ.
func (scm *Schema) Referrers(typ string) []Referrer {
	var result []Referrer
	for _, name := range scm.names {
		cfg := scm.types[name]
		for _, field := range cfg.TargetFields() {
			t := cfg.Targets[field]
			if t.Type == typ {
				result = append(result, Referrer{name, field, t})
			}
		}
	}
	return result
}

// Validate checks that every relation points at a defined type.
func (scm *Schema) Validate() error {
	for _, name := range scm.names {
		cfg := scm.types[name]
		for _, field := range cfg.TargetFields() {
			t := cfg.Targets[field]
			if !scm.HasType(t.Type) {
				return recordErrf(name, nil, field, ErrConfiguration, "target type %q is not defined", t.Type)
			}
			if field == cfg.KeyField {
				return recordErrf(name, nil, field, ErrConfiguration, "key field cannot be a relation")
			}
		}
	}
	return nil
}

// TargetFields returns the relation fields in sorted order.
func (cfg *TypeConfig) TargetFields() []string {
	return slices.Sorted(maps.Keys(cfg.Targets))
}

// TargetTypes returns the distinct target types in sorted order.
func (cfg *TypeConfig) TargetTypes() []string {
	var result []string
	for _, t := range cfg.Targets {
		if !slices.Contains(result, t.Type) {
			result = append(result, t.Type)
		}
	}
	slices.Sort(result)
	return result
}
