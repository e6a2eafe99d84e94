package cdclog

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// admissionWarnInterval bounds how often an admission-rejection warning is
// logged per keyspace, per §7: "Not logged per-occurrence; logged at most once
// per 10 s."
const admissionWarnInterval = 10 * time.Second

// noSpamLogger is the generalized NoSpamLogger design note: a rate-limited
// logger parameterized by (key, interval), holding a map from key to the
// timestamp it last emitted at.
type noSpamLogger struct {
	logger   zerolog.Logger
	interval time.Duration

	mu       sync.Mutex
	lastEmit map[string]time.Time
}

func newNoSpamLogger(logger zerolog.Logger, interval time.Duration) *noSpamLogger {
	return &noSpamLogger{
		logger:   logger,
		interval: interval,
		lastEmit: make(map[string]time.Time),
	}
}

func (n *noSpamLogger) warn(key string, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := time.Now()
	if last, ok := n.lastEmit[key]; ok && now.Sub(last) < n.interval {
		return
	}
	n.lastEmit[key] = now
	n.logger.Warn().Str("keyspace", key).Err(err).Msg("cdc write rejected")
}
