package cdclog

import (
	"errors"
	"fmt"
	"io/fs"
)

const (
	lFileSuffix  = ".log"
	cdcIdxSuffix = ".cdc_idx"
)

// owner can read, write, & execute
// group can only read
// others have no permissions
var ownerReadableWritable fs.FileMode = 0o740

var (
	errNoActiveSegment   = errors.New("cdclog: commit log has no active segment")
	errLogNotInitialized = errors.New("cdclog: commit log has not been initialized. use New")

	errMkDir            = func(err error) error { return fmt.Errorf("cdclog: mkdir failed: %w", err) }
	errReadDir          = func(err error) error { return fmt.Errorf("cdclog: read dir failed: %w", err) }
	errParseSegmentID   = func(err error) error { return fmt.Errorf("cdclog: parse segment file name failed: %w", err) }
	errOpenFile         = func(err error) error { return fmt.Errorf("cdclog: open segment file failed: %w", err) }
	errStatFile         = func(err error) error { return fmt.Errorf("cdclog: stat segment file failed: %w", err) }
	errSegmentAllocate  = func(err error) error { return fmt.Errorf("cdclog: segment allocate failed: %w", err) }
	errSegmentSync      = func(err error) error { return fmt.Errorf("cdclog: segment sync failed: %w", err) }
	errSegmentClose     = func(err error) error { return fmt.Errorf("cdclog: segment close failed: %w", err) }
	errSegmentRemove    = func(err error) error { return fmt.Errorf("cdclog: segment remove failed: %w", err) }
	errCDCLinkCreate    = func(err error) error { return fmt.Errorf("cdclog: cdc link creation failed: %w", err) }
	errCDCLinkRemove    = func(err error) error { return fmt.Errorf("cdclog: cdc link removal failed: %w", err) }
	errCDCSidecarRemove = func(err error) error { return fmt.Errorf("cdclog: cdc sidecar removal failed: %w", err) }
)

// CdcWriteRejected is returned by Allocator.Allocate when a CDC-tracked mutation targets
// a segment whose CDC state is Forbidden. It is soft and retriable at the client level:
// the write is simply not durable yet.
type CdcWriteRejected struct {
	Keyspace string
	CDCDir   string
}

func (e *CdcWriteRejected) Error() string {
	return fmt.Sprintf("cdc write rejected: keyspace %q is over the CDC budget tracked in %s", e.Keyspace, e.CDCDir)
}
