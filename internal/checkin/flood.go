package checkin

import (
	"context"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"
)

const (
	// DefaultFloodThresholdInches is the water depth that triggers a flood broadcast.
	DefaultFloodThresholdInches = 4.0

	floodWindow = time.Hour
)

// FloodReading is one water depth observation from a street sensor.
type FloodReading struct {
	SensorName  string    `json:"sensor"`
	DepthInches float64   `json:"depth_inches"`
	ObservedAt  time.Time `json:"observed_at"`
}

// FloodSource returns the most recent reading since a point in time.
type FloodSource interface {
	LatestReading(ctx context.Context, since time.Time) (*FloodReading, bool, error)
}

// FloodCheckResult is the outcome of one flood monitor run.
type FloodCheckResult struct {
	AlertSent  bool          `json:"alert_sent"`
	Depth      *float64      `json:"depth,omitempty"`
	Recipients int           `json:"recipients,omitempty"`
	Reading    *FloodReading `json:"reading,omitempty"`
	Message    string        `json:"message"`
}

// FloodMonitor polls a sensor and broadcasts when the depth crosses the threshold.
type FloodMonitor struct {
	source     FloodSource
	dispatcher *Dispatcher
	threshold  float64
	now        func() time.Time
	logger     log.Logger
	hooks      Hooks
}

// NewFloodMonitor creates a monitor. A non-positive threshold uses DefaultFloodThresholdInches.
func NewFloodMonitor(source FloodSource, dispatcher *Dispatcher, threshold float64, logger log.Logger, hooks Hooks) *FloodMonitor {
	if threshold <= 0 {
		threshold = DefaultFloodThresholdInches
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &FloodMonitor{
		source:     source,
		dispatcher: dispatcher,
		threshold:  threshold,
		now:        time.Now,
		logger:     logger,
		hooks:      hooks,
	}
}

// Check reads the last hour of sensor data and broadcasts a flood alert when the
// latest depth is at or above the threshold.
func (m *FloodMonitor) Check(ctx context.Context) (*FloodCheckResult, error) {
	reading, ok, err := m.source.LatestReading(ctx, m.now().Add(-floodWindow))
	if err != nil {
		m.hooks.floodCheck("source_error")
		return nil, fmt.Errorf("read flood sensor: %w", err)
	}
	if !ok {
		m.hooks.floodCheck("no_data")
		return &FloodCheckResult{Message: "No recent flood data"}, nil
	}

	depth := reading.DepthInches
	res := &FloodCheckResult{Depth: &depth, Reading: reading}
	L := m.logger.With("sensor", reading.SensorName, "depth_inches", depth, "threshold", m.threshold)

	if depth < m.threshold {
		m.hooks.floodCheck("below_threshold")
		res.Message = fmt.Sprintf("Depth %.2fin below threshold %.2fin", depth, m.threshold)
		L.Info(ctx, "flood depth below threshold")
		return res, nil
	}

	L.Warn(ctx, "flood depth at or above threshold")
	br, err := m.dispatcher.BroadcastFloodAlert(ctx, *reading)
	if br != nil {
		res.Recipients = br.Recipients
		res.AlertSent = br.Delivered > 0
		res.Message = fmt.Sprintf("Sent flood alerts to %d of %d recipient(s)", br.Delivered, br.Recipients)
	}
	if err != nil {
		m.hooks.floodCheck("alert_error")
		if br == nil {
			return nil, err
		}
		L.Error(ctx, err, "flood alert partially failed")
		return res, nil
	}
	m.hooks.floodCheck("alerted")
	return res, nil
}
