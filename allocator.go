package cdclog

import (
	"fmt"
	"os"
	"time"

	"github.com/komuw/cdclog/cdcmetrics"
	"github.com/rs/zerolog"
)

// Mutation carries the fields of a write the allocator needs: whether it is
// tracked by CDC, and which keyspace it targets (for error messages and
// rate-limited logging). Everything else about a mutation — its CQL shape,
// its keyspace's CDC datacenter configuration — is resolved by the caller
// before it reaches Allocate.
type Mutation struct {
	Keyspace     string
	IsCDCTracked bool
}

// Reservation is the opaque (segment, offset, length) tuple Allocate hands
// back: a promise of space the caller is now responsible for filling.
type Reservation struct {
	SegmentID uint64
	Offset    uint64
	Length    uint64
}

// SegmentManager owns the current active segment and performs hand-off to a
// fresh one when the active segment cannot fit a mutation.
type SegmentManager interface {
	Active() (*fileSegment, error)
	SwitchSegment(old *fileSegment) error
}

// Allocator is CdcAllocator: it orchestrates admission, picking a segment,
// checking CDC admission, reserving space, and retrying hand-off as needed.
type Allocator struct {
	manager SegmentManager
	tracker *SizeTracker
	links   *linkManager

	cdcRawDirectory string
	warnLog         *noSpamLogger
	metrics         *cdcmetrics.Metrics
}

// NewAllocator builds an Allocator over manager, tracker and links.
func NewAllocator(manager SegmentManager, tracker *SizeTracker, links *linkManager, cdcRawDirectory string, logger zerolog.Logger, metrics *cdcmetrics.Metrics) *Allocator {
	return &Allocator{
		manager:         manager,
		tracker:         tracker,
		links:           links,
		cdcRawDirectory: cdcRawDirectory,
		warnLog:         newNoSpamLogger(logger, admissionWarnInterval),
		metrics:         metrics,
	}
}

// Allocate admits mutation into the log, returning a Reservation for the
// caller to fill. It has no bounded retry count: the only way forward when a
// segment cannot fit a mutation is to hand off to a new one and try again,
// since upstream validation guarantees every segment is wider than any single
// mutation.
func (a *Allocator) Allocate(mutation Mutation, sizeBytes uint64) (Reservation, error) {
	for {
		seg, err := a.manager.Active()
		if err != nil {
			return Reservation{}, err
		}

		if mutation.IsCDCTracked && seg.state.get() == StateForbidden {
			a.tracker.submitOverflowRecalc()
			rejected := &CdcWriteRejected{Keyspace: mutation.Keyspace, CDCDir: a.cdcRawDirectory}
			a.warnLog.warn(mutation.Keyspace, rejected)
			if a.metrics != nil {
				a.metrics.WritesRejected.WithLabelValues(mutation.Keyspace).Inc()
			}
			return Reservation{}, rejected
		}

		res, ok, err := seg.Allocate(sizeBytes)
		if err != nil {
			return Reservation{}, err
		}
		if !ok {
			if err := a.manager.SwitchSegment(seg); err != nil {
				return Reservation{}, err
			}
			continue
		}

		// Admission always precedes reservation (invariant I4): we only ever
		// mark Contains after the reservation above has already succeeded,
		// so a segment whose reservation failed never gets tagged.
		if mutation.IsCDCTracked {
			seg.state.markContains()
		}

		return res, nil
	}
}

// Discard tears a segment down: it is closed, its bytes are reconciled out of
// CDC accounting, its primary file is optionally removed, and — unless the
// segment ever reached Contains — its CDC link and sidecar are removed too.
func (a *Allocator) Discard(seg *fileSegment, del bool) error {
	if err := seg.Close(); err != nil {
		return err
	}

	a.tracker.onDiscard(seg)

	if del {
		if err := os.Remove(seg.filePath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("cdclog: remove segment file failed: %w", err)
		}
	}

	if seg.state.get() != StateContains {
		if err := a.links.removeLink(seg.cdcLinkPath); err != nil {
			a.warnLog.logger.Warn().Str("path", seg.cdcLinkPath).Err(err).Msg("cdc link removal failed")
		}
		if err := a.links.removeSidecar(seg.filePath); err != nil {
			a.warnLog.logger.Warn().Str("path", seg.filePath).Err(err).Msg("cdc sidecar removal failed")
		}
	}

	return nil
}

// HandleReplayed inspects a replayed log file and deletes its CDC link if the
// link exists but the .cdc_idx sidecar does not: garbage left behind by an
// unfinished producer.
func (a *Allocator) HandleReplayed(logPath string) error {
	linkPath := a.links.cdcLinkPath(logPath)
	if _, err := os.Stat(linkPath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	if a.links.hasSidecar(logPath) {
		return nil
	}
	return a.links.removeLink(linkPath)
}

// admissionRecalcSettleDelay is exposed only so tests can wait for an async
// recalc submitted by Allocate/onNewSegment/onDiscard to actually run,
// without the production code depending on timing to be correct. Production
// code must never sleep on this: see spec §9's open question about the
// source's own timing-dependent test helper.
var admissionRecalcSettleDelay = 10 * time.Millisecond
