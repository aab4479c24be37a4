package partition

import "errors"

// ErrBadPartitionTable is the umbrella for every structural integrity failure.
// All of the more specific validation errors below wrap it.
var ErrBadPartitionTable = errors.New("bad partition table")

var (
	ErrBadMBR             = badTable("invalid MBR signature")
	ErrBadProtectiveMBR   = badTable("MBR is not a valid protective MBR")
	ErrBadSignature       = badTable("invalid GPT header signature")
	ErrBadHeaderSize      = badTable("invalid GPT header size")
	ErrBadEntrySize       = badTable("invalid GPT partition entry size")
	ErrHeaderCRC          = badTable("GPT header CRC32 mismatch")
	ErrEntryArrayMismatch = badTable("primary and alternate GPT entry arrays differ")
	ErrTruncated          = badTable("structure truncated")
)

// ErrNoSuchPartition is returned when a partition number does not select a used entry.
var ErrNoSuchPartition = errors.New("no such partition")

type tableError struct{ msg string }

func badTable(msg string) error { return &tableError{msg: msg} }

func (e *tableError) Error() string { return e.msg }

func (e *tableError) Unwrap() error { return ErrBadPartitionTable }
