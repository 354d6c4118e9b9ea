package ndb

import (
	"fmt"
	"io"
	"time"

	"github.com/VictoriaMetrics/metrics"
)

type dbMetrics struct {
	set *metrics.Set
}

func (m dbMetrics) command(op, typ string, start time.Time, err error) {
	m.set.GetOrCreateCounter(fmt.Sprintf(`ndb_commands_total{op=%q,type=%q}`, op, typ)).Inc()
	if err != nil {
		m.set.GetOrCreateCounter(fmt.Sprintf(`ndb_command_errors_total{op=%q,type=%q}`, op, typ)).Inc()
	}
	m.set.GetOrCreateHistogram(fmt.Sprintf(`ndb_command_duration_seconds{op=%q}`, op)).UpdateDuration(start)
}

func (m dbMetrics) query(op, typ string) {
	m.set.GetOrCreateCounter(fmt.Sprintf(`ndb_queries_total{op=%q,type=%q}`, op, typ)).Inc()
}

func (m dbMetrics) event(kind EventKind) {
	m.set.GetOrCreateCounter(fmt.Sprintf(`ndb_events_total{kind=%q}`, kind.String())).Inc()
}

// WriteMetrics writes the DB's metrics in Prometheus text format.
func (db *DB) WriteMetrics(w io.Writer) {
	db.metrics.set.WritePrometheus(w)
}
