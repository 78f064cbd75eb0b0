package feedback

import (
	"context"
	"errors"

	"github.com/Adithya-Monish-Kumar-K/prefix-search/internal/search"
	apperrors "github.com/Adithya-Monish-Kumar-K/prefix-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/prefix-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/prefix-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/prefix-search/pkg/metrics"
)

// Bumper is the part of the index a bump consumer drives.
type Bumper interface {
	BumpScore(ctx context.Context, name string, id int64, delta float64) error
	BumpRecord(ctx context.Context, id int64, delta float64) (*search.Record, error)
	DefaultBump() float64
}

// HandleBump returns a MessageHandler applying BumpEvents to idx. Messages
// that cannot be decoded or carry invalid input are logged and skipped; store
// failures are returned so the message is retried.
func HandleBump(idx Bumper, m *metrics.Metrics) kafka.MessageHandler {
	log := logger.WithComponent("bump-consumer")
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[BumpEvent](value)
		if err != nil {
			log.Error("failed to decode bump event", "key", string(key), "error", err)
			return nil
		}
		if event.ID <= 0 || event.Delta < 0 {
			log.Warn("ignoring invalid bump event", "id", event.ID, "delta", event.Delta)
			return nil
		}
		delta := event.Delta
		if delta == 0 {
			delta = idx.DefaultBump()
		}

		if event.Name != "" {
			err = idx.BumpScore(ctx, event.Name, event.ID, delta)
		} else {
			_, err = idx.BumpRecord(ctx, event.ID, delta)
		}
		if err != nil {
			if skippable(err) {
				log.Warn("dropping bump event", "id", event.ID, "error", err)
				return nil
			}
			return err
		}
		if m != nil {
			m.ScoreBumpsTotal.WithLabelValues("kafka").Inc()
		}
		log.Debug("bump applied", "id", event.ID, "delta", delta)
		return nil
	}
}

// skippable reports errors that retrying the same message cannot fix.
func skippable(err error) bool {
	return errors.Is(err, apperrors.ErrInvalidInput) ||
		errors.Is(err, apperrors.ErrRecordNotFound) ||
		errors.Is(err, apperrors.ErrMalformedRecord)
}
