package scheduler

import (
	"hash/fnv"
	"math/rand/v2"
	"time"

	"github.com/robfig/cron/v3"
)

// spreadCap bounds how far the first run of an interval job is pushed.
const spreadCap = 30 * time.Second

// delayedFirst is an interval schedule whose first tick is moved to first.
type delayedFirst struct {
	every cron.Schedule
	first time.Time
}

func (d delayedFirst) Next(t time.Time) time.Time {
	if t.Before(d.first) {
		return d.first
	}
	return d.every.Next(t)
}

// spreadInterval returns an every-interval schedule whose first run lands
// one interval plus a random offset after now. The offset is below
// min(every, spreadCap) and differs per job name.
func spreadInterval(every time.Duration, now time.Time, name string) (cron.Schedule, time.Duration) {
	limit := min(every, spreadCap)
	if limit <= 0 {
		return cron.Every(every), 0
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	rng := rand.New(rand.NewPCG(h.Sum64(), uint64(now.UnixNano())))
	offset := time.Duration(rng.Int64N(int64(limit)))
	return delayedFirst{every: cron.Every(every), first: now.Add(every + offset)}, offset
}
