package cdclog

import (
	"os"
	"path/filepath"
	"strings"
)

// linkManager is CdcLinkManager: it maintains the hard link from each active
// segment's primary log file into the CDC-raw directory, and removes that link
// (and its sidecar) on discard when the segment never admitted CDC data.
//
// A hard link, rather than a copy, lets the external consumer observe growth of
// the segment in real time while the primary commit log keeps appending to the
// same inode.
type linkManager struct {
	cdcDir string
}

func newLinkManager(cdcDir string) *linkManager {
	return &linkManager{cdcDir: cdcDir}
}

func (m *linkManager) cdcLinkPath(primaryPath string) string {
	return filepath.Join(m.cdcDir, filepath.Base(primaryPath))
}

func (m *linkManager) sidecarPath(primaryPath string) string {
	base := strings.TrimSuffix(filepath.Base(primaryPath), lFileSuffix)
	return filepath.Join(m.cdcDir, base+cdcIdxSuffix)
}

// createLink hard-links primaryPath into the CDC-raw directory under its own
// basename. Failure here is fatal at the call site: the segment must not be
// exposed as active if the node cannot honor the CDC contract for it.
func (m *linkManager) createLink(primaryPath string) (string, error) {
	linkPath := m.cdcLinkPath(primaryPath)
	if err := os.Link(primaryPath, linkPath); err != nil {
		return "", errCDCLinkCreate(err)
	}
	return linkPath, nil
}

// removeLink deletes a CDC link, tolerating one that is already absent.
func (m *linkManager) removeLink(linkPath string) error {
	if err := os.Remove(linkPath); err != nil && !os.IsNotExist(err) {
		return errCDCLinkRemove(err)
	}
	return nil
}

// removeSidecar deletes the .cdc_idx sidecar for primaryPath, tolerating one
// that is already absent.
func (m *linkManager) removeSidecar(primaryPath string) error {
	if err := os.Remove(m.sidecarPath(primaryPath)); err != nil && !os.IsNotExist(err) {
		return errCDCSidecarRemove(err)
	}
	return nil
}

// hasSidecar reports whether the .cdc_idx sidecar for primaryPath exists.
func (m *linkManager) hasSidecar(primaryPath string) bool {
	_, err := os.Stat(m.sidecarPath(primaryPath))
	return err == nil
}
