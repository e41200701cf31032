package audit

import (
	"context"
	"time"

	"main/internal/obs"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Record is one terminal order outcome, durable for post-trade review.
type Record struct {
	ID            uint64 `gorm:"primaryKey;autoIncrement"`
	ClientOrderID uint64 `gorm:"index"`
	Market        uint32
	Side          string
	FromState     string
	ToState       string `gorm:"index"`
	Code          int32
	Message       string
	TxHash        string
	OccurredAt    time.Time
	CreatedAt     time.Time
}

// TableName sets the storage table.
func (Record) TableName() string {
	return "order_outcomes"
}

// Sink persists terminal transitions from the reconciler's transition stream.
// It is an observer only: a slow or failing database never touches the
// pipeline.
type Sink struct {
	db     *gorm.DB
	stream <-chan obs.Transition
}

// NewSink opens the store and migrates the outcome table.
func NewSink(dsn string, stream <-chan obs.Transition) (*Sink, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, errors.Wrap(err, "open audit store")
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, errors.Wrap(err, "migrate audit store")
	}
	return &Sink{db: db, stream: stream}, nil
}

// Run consumes transitions until ctx ends or the stream closes.
func (s *Sink) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t, ok := <-s.stream:
			if !ok {
				return nil
			}
			if !t.To.IsTerminal() {
				continue
			}
			rec := Record{
				ClientOrderID: uint64(t.ClientOrderID),
				Market:        uint32(t.Market),
				Side:          t.Side.String(),
				FromState:     t.From.String(),
				ToState:       t.To.String(),
				Code:          t.Code,
				Message:       t.Message,
				TxHash:        t.TxHash,
				OccurredAt:    t.At,
			}
			if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
				logs.Errorf("audit write failed, client_order_id: %d, err: %+v", rec.ClientOrderID, err)
			}
		}
	}
}

// Close releases the connection pool.
func (s *Sink) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
