package transport

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	"github.com/muurk/tinyhttps/internal/logging"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// TicketRotator replaces the TLS session ticket key on a cron schedule.
// Older keys are kept for decryption so resumption keeps working across a
// rotation, up to Keep keys in total.
type TicketRotator struct {
	config   *tls.Config
	schedule string
	keep     int
	cron     *cron.Cron
	mu       sync.Mutex
	keys     [][32]byte
	running  bool
}

// NewTicketRotator validates schedule (standard five-field cron syntax) and
// installs a first key immediately.
func NewTicketRotator(config *tls.Config, schedule string, keep int) (*TicketRotator, error) {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid ticket rotation schedule %q: %w", schedule, err)
	}
	if keep < 1 {
		keep = 1
	}
	r := &TicketRotator{
		config:   config,
		schedule: schedule,
		keep:     keep,
		cron:     cron.New(),
	}
	if err := r.Rotate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Rotate generates a new primary key.
func (r *TicketRotator) Rotate() error {
	var key [32]byte
	if _, err := rand.Read(key[:]); err != nil {
		return fmt.Errorf("generate session ticket key: %w", err)
	}

	r.mu.Lock()
	r.keys = append([][32]byte{key}, r.keys...)
	if len(r.keys) > r.keep {
		r.keys = r.keys[:r.keep]
	}
	keys := append([][32]byte(nil), r.keys...)
	r.mu.Unlock()

	r.config.SetSessionTicketKeys(keys)
	logging.Debug("Rotated TLS session ticket key", zap.Int("keys", len(keys)))
	return nil
}

// Keys returns the number of keys currently installed.
func (r *TicketRotator) Keys() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.keys)
}

// Start schedules rotation until ctx is cancelled.
func (r *TicketRotator) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}
	_, err := r.cron.AddFunc(r.schedule, func() {
		if err := r.Rotate(); err != nil {
			logging.Error("Session ticket rotation failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule ticket rotation: %w", err)
	}
	r.cron.Start()
	r.running = true

	logging.Info("TLS session ticket rotation started", zap.String("schedule", r.schedule))

	go func() {
		<-ctx.Done()
		r.Stop()
	}()
	return nil
}

// Stop halts the schedule and waits for a running rotation.
func (r *TicketRotator) Stop() {
	r.mu.Lock()
	running := r.running
	r.running = false
	r.mu.Unlock()
	if running {
		// a rotation in flight takes r.mu, so wait without holding it
		<-r.cron.Stop().Done()
	}
}

// NextRun returns the time of the next scheduled rotation, or the zero time
// when not running.
func (r *TicketRotator) NextRun() time.Time {
	entries := r.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}
