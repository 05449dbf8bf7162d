package metrics

import "time"

// bucketRing is a fixed-size ring of time buckets. It is guarded by the
// engine mutex.
type bucketRing struct {
	buckets []TimeBucket
	head    int
	count   int

	lastEmit       time.Time
	intervalReqs   int64
	intervalFailed int64
}

func newBucketRing(size int) *bucketRing {
	return &bucketRing{
		buckets:  make([]TimeBucket, size),
		lastEmit: time.Now(),
	}
}

func (r *bucketRing) record(failed bool) {
	r.intervalReqs++
	if failed {
		r.intervalFailed++
	}
}

func (r *bucketRing) emit(now time.Time, iterations, failed int64, p95 time.Duration, activeVUs int, phase Phase) {
	interval := now.Sub(r.lastEmit).Seconds()
	if interval <= 0 {
		interval = 1
	}

	b := TimeBucket{
		Timestamp:        now,
		Iterations:       iterations,
		Failed:           failed,
		IntervalRequests: r.intervalReqs,
		IntervalRPS:      float64(r.intervalReqs) / interval,
		LatencyP95:       p95,
		ActiveVUs:        activeVUs,
		Phase:            phase,
	}
	if r.intervalReqs > 0 {
		b.IntervalErrorRate = float64(r.intervalFailed) / float64(r.intervalReqs)
	}

	r.buckets[r.head] = b
	r.head = (r.head + 1) % len(r.buckets)
	if r.count < len(r.buckets) {
		r.count++
	}
	r.lastEmit = now
	r.intervalReqs = 0
	r.intervalFailed = 0
}

// all returns buckets oldest first.
func (r *bucketRing) all() []TimeBucket {
	out := make([]TimeBucket, 0, r.count)
	start := 0
	if r.count == len(r.buckets) {
		start = r.head
	}
	for i := 0; i < r.count; i++ {
		out = append(out, r.buckets[(start+i)%len(r.buckets)])
	}
	return out
}
