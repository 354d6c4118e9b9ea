package ndb

import (
	"log/slog"

	"github.com/VictoriaMetrics/metrics"
)

type Options struct {
	// Logger receives error reports and, with Verbose, per-operation debug
	// lines. Default: slog.Default().
	Logger  *slog.Logger
	Verbose bool

	// IsTesting trades durability for speed on the bolt backend.
	IsTesting bool
	// MmapSize overrides the initial bolt mmap size.
	MmapSize int

	// ReverseRefs maintains the _refs attribute on referenced records.
	// Without it, removal finds parents by scanning their types.
	ReverseRefs bool

	// KeyGenerator supplies keys for keyless records of types that are not
	// auto-keyed. When nil, such records fail with ErrMissingKey.
	KeyGenerator KeyGenerator

	// Normalizer and Denormalizer default to the schema-driven graph
	// implementations.
	Normalizer   Normalizer
	Denormalizer Denormalizer

	// History, when non-nil, records matching events in the _history
	// collection.
	History *Match

	// Metrics receives command, query and event counters. Default: a fresh
	// set per DB.
	Metrics *metrics.Set
}

func DefaultOptions() Options {
	return Options{
		Logger:      slog.Default(),
		ReverseRefs: true,
	}
}

func (o *Options) validate(scm *Schema) {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Normalizer == nil {
		o.Normalizer = NewNormalizer(scm, o.KeyGenerator)
	}
	if o.Denormalizer == nil {
		o.Denormalizer = NewDenormalizer(scm)
	}
	if o.Metrics == nil {
		o.Metrics = metrics.NewSet()
	}
}
