// Package monitoring collects operational metrics over the review queue and
// research sessions and raises webhook alerts when thresholds are breached.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/open-justice/intervention-graph/internal/db"
)

// MetricsSnapshot holds a point-in-time view of system health.
type MetricsSnapshot struct {
	// Review queue depth by status.
	QueuePending  int `json:"queue_pending"`
	QueueApproved int `json:"queue_approved"`
	QueueRejected int `json:"queue_rejected"`
	QueueMerged   int `json:"queue_merged"`

	// Research sessions within the lookback window.
	SessionsTotal     int     `json:"sessions_total"`
	SessionsCompleted int     `json:"sessions_completed"`
	SessionsFailed    int     `json:"sessions_failed"`
	SessionsRunning   int     `json:"sessions_running"`
	SessionFailRate   float64 `json:"session_fail_rate"`

	FindingsRecorded int `json:"findings_recorded"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Collector gathers metrics from the database.
type Collector struct {
	pool db.Pool
}

// NewCollector creates a metrics collector.
func NewCollector(pool db.Pool) *Collector {
	return &Collector{pool: pool}
}

// Collect builds a snapshot. Queue depth counts everything; session counts
// are limited to the lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	if lookbackHours <= 0 {
		lookbackHours = 24
	}
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   time.Now().UTC(),
	}

	rows, err := c.pool.Query(ctx, `SELECT status, count(*) FROM discovered_items GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: queue counts")
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "monitoring: scan queue counts")
		}
		switch status {
		case "pending":
			snap.QueuePending = n
		case "approved":
			snap.QueueApproved = n
		case "rejected":
			snap.QueueRejected = n
		case "merged":
			snap.QueueMerged = n
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "monitoring: queue counts")
	}

	rows, err = c.pool.Query(ctx,
		`SELECT status, count(*) FROM research_sessions
		 WHERE created_at > now() - make_interval(hours => $1)
		 GROUP BY status`, lookbackHours)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: session counts")
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "monitoring: scan session counts")
		}
		snap.SessionsTotal += n
		switch status {
		case "completed":
			snap.SessionsCompleted = n
		case "failed":
			snap.SessionsFailed = n
		case "planning", "executing":
			snap.SessionsRunning += n
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "monitoring: session counts")
	}

	if finished := snap.SessionsCompleted + snap.SessionsFailed; finished > 0 {
		snap.SessionFailRate = float64(snap.SessionsFailed) / float64(finished)
	}

	err = c.pool.QueryRow(ctx,
		`SELECT count(*) FROM research_findings
		 WHERE created_at > now() - make_interval(hours => $1)`, lookbackHours,
	).Scan(&snap.FindingsRecorded)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: findings count")
	}

	return snap, nil
}
