package subscriber

import (
	"context"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog"
	"go.etcd.io/bbolt"
)

// candleBucket holds persisted candle records keyed by symbol and timestamp.
var candleBucket = []byte("candles")

// LogHandler writes every decoded message to the structured log. It is the
// default sink for subscribers with no type-specific behavior.
func LogHandler(log zerolog.Logger) Handler {
	return func(ctx context.Context, channel string, data any) error {
		log.Info().Str("channel", channel).Interface("data", data).Msg("message received")
		return nil
	}
}

// CandleStoreHandler persists candle payloads into the subscriber's backing
// database. Records are keyed by "symbol|timestamp" so replays overwrite
// rather than duplicate.
func CandleStoreHandler(s *Subscriber) Handler {
	return func(ctx context.Context, channel string, data any) error {
		db, err := s.Store()
		if err != nil {
			return err
		}

		record, ok := data.(map[string]any)
		if !ok {
			return fmt.Errorf("subscriber %s: candle payload is %T, want map", s.ID(), data)
		}
		symbol, _ := record["symbol"].(string)
		if symbol == "" {
			return fmt.Errorf("subscriber %s: candle payload missing symbol", s.ID())
		}
		timestamp, _ := record["timestamp"].(string)

		encoded, err := sonic.Marshal(record)
		if err != nil {
			return fmt.Errorf("subscriber %s: encoding candle: %w", s.ID(), err)
		}

		key := []byte(symbol + "|" + timestamp)
		return db.Update(func(tx *bbolt.Tx) error {
			bucket, err := tx.CreateBucketIfNotExists(candleBucket)
			if err != nil {
				return err
			}
			return bucket.Put(key, encoded)
		})
	}
}
