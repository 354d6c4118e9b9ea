package ndb

import (
	"fmt"
	"maps"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// SchemaFile is the YAML representation of a Schema:
//
//	types:
//	  user:
//	    targets:
//	      role: {type: role}
//	  role:
//	    autoKey: true
//	  article:
//	    targets:
//	      author: {type: user}
//	      comments: {type: comment, array: true, cascade: true}
type SchemaFile struct {
	Types map[string]TypeFile `yaml:"types" json:"types" jsonschema:"required,description=Entity types by name"`
}

type TypeFile struct {
	Key     string                `yaml:"key,omitempty" json:"key,omitempty" jsonschema:"description=Key field name (default id)"`
	AutoKey bool                  `yaml:"autoKey,omitempty" json:"autoKey,omitempty" jsonschema:"description=Keys are assigned by the storage backend"`
	Targets map[string]TargetFile `yaml:"targets,omitempty" json:"targets,omitempty" jsonschema:"description=Relation fields by name"`
}

type TargetFile struct {
	Type    string `yaml:"type" json:"type" jsonschema:"required,description=Referenced type"`
	Array   bool   `yaml:"array,omitempty" json:"array,omitempty" jsonschema:"description=Field holds a list of keys"`
	Cascade bool   `yaml:"cascade,omitempty" json:"cascade,omitempty" jsonschema:"description=Removing the owner removes referenced records"`
}

func ParseSchema(data []byte) (*Schema, error) {
	var sf SchemaFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("schema: %w", err)
	}
	return sf.Schema()
}

func LoadSchemaFile(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	scm, err := ParseSchema(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return scm, nil
}

// Schema builds and validates the schema described by the file. Types are
// defined in name order.
func (sf *SchemaFile) Schema() (scm *Schema, err error) {
	defer func() {
		if p := recover(); p != nil {
			scm, err = nil, fmt.Errorf("%w: %v", ErrConfiguration, p)
		}
	}()
	scm = NewSchema()
	for _, name := range slices.Sorted(maps.Keys(sf.Types)) {
		tf := sf.Types[name]
		scm.Define(name, func(b *TypeBuilder) {
			if tf.Key != "" {
				b.Key(tf.Key)
			}
			if tf.AutoKey {
				b.AutoKey()
			}
			for field, t := range tf.Targets {
				tb := b.target(field, t.Type, t.Array)
				if t.Cascade {
					tb.Cascade()
				}
			}
		})
	}
	if err := scm.Validate(); err != nil {
		return nil, err
	}
	return scm, nil
}

// File returns the YAML representation of the schema.
func (scm *Schema) File() SchemaFile {
	sf := SchemaFile{Types: make(map[string]TypeFile, len(scm.names))}
	for _, name := range scm.names {
		cfg := scm.types[name]
		tf := TypeFile{AutoKey: cfg.AutoKey}
		if cfg.KeyField != DefaultKeyField {
			tf.Key = cfg.KeyField
		}
		if len(cfg.Targets) > 0 {
			tf.Targets = make(map[string]TargetFile, len(cfg.Targets))
			for field, t := range cfg.Targets {
				tf.Targets[field] = TargetFile{Type: t.Type, Array: t.IsArray, Cascade: t.CascadeRemoval}
			}
		}
		sf.Types[name] = tf
	}
	return sf
}
