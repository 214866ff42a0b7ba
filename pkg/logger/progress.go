package logger

import (
	"fmt"
	"sync"
	"time"
)

// ProgressTracker reports progress of a batch of reconciliation scopes.
// It is safe for concurrent use by scope workers.
type ProgressTracker struct {
	logger      Logger
	operation   string
	total       int64
	current     int64
	failed      int64
	matches     int64
	startTime   time.Time
	lastLogTime time.Time
	logInterval time.Duration
	mutex       sync.Mutex
}

// ProgressConfig configures progress tracking behavior
type ProgressConfig struct {
	Operation   string        `json:"operation"`
	Total       int64         `json:"total"`
	LogInterval time.Duration `json:"log_interval"`
	Logger      Logger        `json:"-"`
}

// NewProgressTracker creates a new progress tracker
func NewProgressTracker(config ProgressConfig) *ProgressTracker {
	if config.Logger == nil {
		config.Logger = GetGlobalLogger()
	}
	if config.LogInterval == 0 {
		config.LogInterval = 5 * time.Second
	}

	now := time.Now()
	tracker := &ProgressTracker{
		logger:      config.Logger.WithComponent("progress"),
		operation:   config.Operation,
		total:       config.Total,
		startTime:   now,
		lastLogTime: now,
		logInterval: config.LogInterval,
	}

	tracker.logger.WithFields(Fields{
		"operation": config.Operation,
		"total":     config.Total,
	}).Info("Starting operation")

	return tracker
}

// ScopeDone records one finished scope and the number of matches it produced.
func (p *ProgressTracker) ScopeDone(matches int, err error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.current++
	p.matches += int64(matches)
	if err != nil {
		p.failed++
	}

	now := time.Now()
	if now.Sub(p.lastLogTime) >= p.logInterval {
		p.logger.WithFields(p.fields(now)).Info("Progress update")
		p.lastLogTime = now
	}
}

// Complete logs final statistics and returns them.
func (p *ProgressTracker) Complete() ProgressStats {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	now := time.Now()
	fields := p.fields(now)
	fields["duration"] = now.Sub(p.startTime).String()

	if p.failed > 0 {
		p.logger.WithFields(fields).Warn("Operation completed with failed scopes")
	} else {
		p.logger.WithFields(fields).Info("Operation completed")
	}
	return p.stats(now)
}

// GetStats returns current progress statistics
func (p *ProgressTracker) GetStats() ProgressStats {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.stats(time.Now())
}

func (p *ProgressTracker) stats(now time.Time) ProgressStats {
	var percentage float64
	if p.total > 0 {
		percentage = float64(p.current) / float64(p.total) * 100
	}
	return ProgressStats{
		Operation:  p.operation,
		Total:      p.total,
		Current:    p.current,
		Failed:     p.failed,
		Matches:    p.matches,
		Percentage: percentage,
		Duration:   now.Sub(p.startTime),
	}
}

func (p *ProgressTracker) fields(now time.Time) Fields {
	fields := Fields{
		"operation": p.operation,
		"processed": p.current,
		"failed":    p.failed,
		"matches":   p.matches,
	}
	if p.total > 0 {
		fields["total"] = p.total
		fields["percentage"] = fmt.Sprintf("%.1f%%", float64(p.current)/float64(p.total)*100)
	}
	return fields
}

// ProgressStats contains progress statistics
type ProgressStats struct {
	Operation  string        `json:"operation"`
	Total      int64         `json:"total"`
	Current    int64         `json:"current"`
	Failed     int64         `json:"failed"`
	Matches    int64         `json:"matches"`
	Percentage float64       `json:"percentage"`
	Duration   time.Duration `json:"duration"`
}

// String returns a human-readable representation of the progress
func (ps ProgressStats) String() string {
	if ps.Total > 0 {
		return fmt.Sprintf("%s: %d/%d scopes (%.1f%%), %d matches, %d failed, elapsed %v",
			ps.Operation, ps.Current, ps.Total, ps.Percentage, ps.Matches, ps.Failed, ps.Duration)
	}
	return fmt.Sprintf("%s: %d scopes, %d matches, %d failed, elapsed %v",
		ps.Operation, ps.Current, ps.Matches, ps.Failed, ps.Duration)
}

// TimedOperation executes fn and logs its outcome and duration.
func TimedOperation(operation string, logger Logger, fn func() error) error {
	if logger == nil {
		logger = GetGlobalLogger()
	}
	log := logger.WithComponent("operation").WithField("operation", operation)
	log.Debug("Starting operation")

	start := time.Now()
	err := fn()
	log = log.WithField("duration", time.Since(start).String())

	if err != nil {
		log.WithError(err).Error("Operation failed")
	} else {
		log.Info("Operation completed successfully")
	}
	return err
}
