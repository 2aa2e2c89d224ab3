package events

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/stackin/escrow/internal/clock"
	"github.com/stackin/escrow/internal/config"
	"github.com/stackin/escrow/internal/observability/metrics"
	"github.com/stackin/escrow/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultRelayBatch       = 100
	maxLastErrorLength      = 512
	defaultRelayInterval    = 2 * time.Second
	defaultRelayMaxAttempts = 20
)

type RelayParams struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Clock     clock.Clock
	Publisher Publisher
	Cfg       config.Config         `optional:"true"`
	Metrics   *metrics.RelayMetrics `optional:"true"`
}

// Relay moves committed outbox rows to the publisher, oldest first.
type Relay struct {
	db        *gorm.DB
	log       *zap.Logger
	clock     clock.Clock
	publisher Publisher
	metrics   *metrics.RelayMetrics
	interval  time.Duration
	batch     int

	// Rows that failed maxAttempts times stay unpublished and are skipped.
	maxAttempts int

	stop chan struct{}
	wg   sync.WaitGroup
}

func NewRelay(p RelayParams) *Relay {
	interval := p.Cfg.OutboxRelayInterval
	if interval <= 0 {
		interval = defaultRelayInterval
	}
	maxAttempts := p.Cfg.OutboxMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultRelayMaxAttempts
	}
	return &Relay{
		db:        p.DB,
		log:       p.Log.Named("events.relay"),
		clock:     p.Clock,
		publisher: p.Publisher,
		metrics:   p.Metrics,
		interval:  interval,
		batch:     defaultRelayBatch,

		maxAttempts: maxAttempts,
	}
}

// RunOnce publishes up to one batch and returns how many rows were delivered.
// A row whose publish fails stays pending with its attempt count bumped until
// it reaches the attempt limit.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	start := time.Now()
	delivered := 0
	pending := 0

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []OutboxRecord
		stmt := tx.WithContext(ctx).
			Where("published_at IS NULL AND attempts < ?", r.maxAttempts).
			Order("created_at asc, id asc").
			Limit(r.batch)
		if db.SupportsRowLocks(tx) {
			stmt = stmt.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}
		if err := stmt.Find(&rows).Error; err != nil {
			return err
		}
		pending = len(rows)

		for _, row := range rows {
			msg := Message{
				ID:            row.EventID,
				Topic:         row.Topic,
				AggregateType: row.AggregateType,
				AggregateID:   row.AggregateID.String(),
				Payload:       []byte(row.Payload),
				CreatedAt:     row.CreatedAt,
			}
			if pubErr := r.publisher.Publish(ctx, msg); pubErr != nil {
				wrapped := fmt.Errorf("%w: %v", metrics.ErrPublish, pubErr)
				r.metrics.IncError(wrapped)
				fields := []zap.Field{
					zap.String("event_id", row.EventID),
					zap.String("topic", row.Topic),
					zap.Int("attempts", row.Attempts+1),
					zap.Error(pubErr),
				}
				if row.Attempts+1 >= r.maxAttempts {
					r.log.Error("outbox event parked after max attempts", fields...)
				} else {
					r.log.Warn("outbox publish failed", fields...)
				}
				lastErr := truncate(pubErr.Error(), maxLastErrorLength)
				if err := tx.Model(&OutboxRecord{}).
					Where("id = ?", row.ID).
					Updates(map[string]any{
						"attempts":   gorm.Expr("attempts + 1"),
						"last_error": lastErr,
					}).Error; err != nil {
					return err
				}
				continue
			}

			now := r.clock.Now()
			if err := tx.Model(&OutboxRecord{}).
				Where("id = ?", row.ID).
				Updates(map[string]any{
					"published_at": now,
					"attempts":     gorm.Expr("attempts + 1"),
				}).Error; err != nil {
				return err
			}
			r.metrics.IncPublished(row.Topic)
			delivered++
		}
		return nil
	})
	if err != nil {
		r.metrics.IncError(err)
		return 0, err
	}

	r.metrics.ObserveRun(time.Since(start), pending-delivered)
	return delivered, nil
}

func (r *Relay) Start() {
	r.stop = make(chan struct{})
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.stop:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), r.interval*5)
				if _, err := r.RunOnce(ctx); err != nil {
					r.log.Error("outbox relay run failed", zap.Error(err))
				}
				cancel()
			}
		}
	}()
}

func (r *Relay) Stop() {
	if r.stop == nil {
		return
	}
	close(r.stop)
	r.wg.Wait()
	r.stop = nil
}

func truncate(s string, limit int) string {
	s = strings.TrimSpace(s)
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
