package fat

import "errors"

// Lookup errors returned by the path resolver.
var (
	ErrFileNotFound        = errors.New("file not found")
	ErrReadDirectoryAsFile = errors.New("path names a directory, not a file")
	ErrNonAbsolutePath     = errors.New("path is not absolute")
	ErrNotDirectory        = errors.New("path component is not a directory")
)

// Structural errors.
var (
	ErrInvalidBootSector = errors.New("invalid FAT boot sector")
	ErrTruncated         = errors.New("structure truncated")
	// ErrBadCluster is returned when a chain runs into the bad-cluster marker
	// where another cluster was expected.
	ErrBadCluster   = errors.New("chain reaches a bad cluster")
	ErrClusterLoop  = errors.New("cluster chain loops")
	ErrClusterRange = errors.New("cluster number outside the volume")
	ErrShortChain   = errors.New("cluster chain shorter than file size")
)
