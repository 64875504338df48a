// Package throttle caps upload throughput with a token bucket so the camera
// uplink stays usable for live streaming while stills are uploaded.
package throttle

import (
	"context"
	"io"
	"log/slog"

	"golang.org/x/time/rate"
)

// burstMultiplier sizes the bucket relative to the per-second rate, so a
// short pause can be made up on the next read without lowering sustained
// throughput below the limit.
const burstMultiplier = 2

// Limiter is shared by every upload of the process. A nil *Limiter means
// unlimited and is safe to use.
type Limiter struct {
	limiter *rate.Limiter
}

// New creates a limiter for bytesPerSec. Zero or less returns nil
// (unlimited).
func New(bytesPerSec int64, logger *slog.Logger) *Limiter {
	if bytesPerSec <= 0 {
		return nil
	}

	burst := int(bytesPerSec) * burstMultiplier

	logger.Info("upload bandwidth limited",
		slog.Int64("bytes_per_sec", bytesPerSec),
		slog.Int("burst", burst),
	)

	return &Limiter{limiter: rate.NewLimiter(rate.Limit(bytesPerSec), burst)}
}

// Reader returns r throttled to the limit. A nil Limiter returns r unchanged.
func (l *Limiter) Reader(ctx context.Context, r io.Reader) io.Reader {
	if l == nil {
		return r
	}

	return &limitedReader{r: r, limiter: l.limiter, ctx: ctx}
}

// limitedReader blocks after each read until the bucket covers the bytes
// consumed.
type limitedReader struct {
	r       io.Reader
	limiter *rate.Limiter
	ctx     context.Context
}

func (r *limitedReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if n > 0 {
		if waitErr := waitN(r.ctx, r.limiter, n); waitErr != nil {
			return n, waitErr
		}
	}

	return n, err
}

// waitN splits a request larger than the burst, which rate.Limiter.WaitN
// would reject, into burst-sized waits.
func waitN(ctx context.Context, limiter *rate.Limiter, n int) error {
	burst := limiter.Burst()

	for n > 0 {
		take := min(n, burst)

		if err := limiter.WaitN(ctx, take); err != nil {
			return err
		}

		n -= take
	}

	return nil
}
