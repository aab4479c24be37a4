package boot

import (
	"errors"
	"fmt"
)

var (
	ErrNoSuchDisk    = errors.New("no such disk")
	ErrUnknownFS     = errors.New("unknown file system")
	ErrProgramType   = errors.New("program type mismatch")
	ErrChecksum      = errors.New("sha256 mismatch")
	ErrSignature     = errors.New("signature verification failed")
	ErrDuplicateDisk = errors.New("disk GUID already registered")
)

// Stage names the step of a boot attempt that failed.
type Stage string

const (
	StageDisk      Stage = "disk"
	StageGPT       Stage = "gpt"
	StagePartition Stage = "partition"
	StageFS        Stage = "fs"
	StageRead      Stage = "read"
	StageVerify    Stage = "verify"
)

// Failure reports why a boot entry could not be loaded.
type Failure struct {
	Entry string
	Stage Stage
	Err   error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("boot entry %q: %s: %v", f.Entry, f.Stage, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

func fail(entry string, stage Stage, err error) error {
	return &Failure{Entry: entry, Stage: stage, Err: err}
}
