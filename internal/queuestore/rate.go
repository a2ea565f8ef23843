package queuestore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"
)

func rateKey(timestamp int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(timestamp))
	return b
}

// LogRate inserts a (now, completed_count) sample and prunes samples older
// than rateSampleMaxAgeS (1800s).
func (s *Store) LogRate(ctx context.Context, completedCount int64) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketRateSamples)
		now := s.Now().Unix()

		sample := RateSample{Timestamp: now, CompletedCount: completedCount}
		data, err := json.Marshal(&sample)
		if err != nil {
			return err
		}
		if err := bucket.Put(rateKey(now), data); err != nil {
			return err
		}

		cutoff := now - rateSampleMaxAgeS
		c := bucket.Cursor()
		var stale [][]byte
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if int64(binary.BigEndian.Uint64(k)) >= cutoff {
				break
			}
			stale = append(stale, append([]byte(nil), k...))
		}
		for _, k := range stale {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetRateInfo computes instantaneous rate, ETA, and a per-interval rate
// history from the stored samples. Rate is computed over the two samples
// bracketing the last 60s window when ≥2 samples fall in it, else over the
// last two samples overall — per spec §4.1 and scenario 6.
func (s *Store) GetRateInfo(ctx context.Context, pendingPlusAssigned int) (*RateInfo, error) {
	var samples []RateSample
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRateSamples).ForEach(func(k, v []byte) error {
			var sample RateSample
			if err := json.Unmarshal(v, &sample); err != nil {
				return fmt.Errorf("unmarshal rate sample %s: %w", k, err)
			}
			samples = append(samples, sample)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	info := &RateInfo{SampleCount: len(samples)}
	if len(samples) < 2 {
		return info, nil
	}

	history := make([]float64, 0, len(samples)-1)
	for i := 1; i < len(samples); i++ {
		dt := float64(samples[i].Timestamp - samples[i-1].Timestamp)
		dc := float64(samples[i].CompletedCount - samples[i-1].CompletedCount)
		rate := 0.0
		if dt > 0 {
			rate = dc / dt
		}
		history = append(history, rate)
	}
	info.History = history

	last := samples[len(samples)-1]
	windowCutoff := last.Timestamp - 60

	lo := -1
	for i, sample := range samples {
		if sample.Timestamp >= windowCutoff {
			lo = i
			break
		}
	}

	var first, second RateSample
	if lo >= 0 && lo < len(samples)-1 {
		first, second = samples[lo], last
	} else {
		first, second = samples[len(samples)-2], last
	}

	dt := float64(second.Timestamp - first.Timestamp)
	if dt > 0 {
		info.RatePerSec = float64(second.CompletedCount-first.CompletedCount) / dt
	}
	if info.RatePerSec > 0 {
		info.ETASeconds = float64(pendingPlusAssigned) / info.RatePerSec
	}
	return info, nil
}
