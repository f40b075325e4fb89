// Package position implements the journal's part/file/directory rollover
// state machine as a pure function: no I/O, no locks, no glock. Putting
// the Start it returns ahead of the Conj/Upload/End that depend on it is
// the caller's job; the journal façade does this at enqueue time, not
// here.
package position

import (
	"time"

	"github.com/factual/s3journal/internal/queue"
)

// Position is the journal's (runningBytes, partIndex, directory) triple.
type Position struct {
	RunningBytes uint64
	PartIndex    uint64
	Directory    string
}

// ToQueue converts a Position to the queue package's wire representation.
func (p Position) ToQueue() queue.Position {
	return queue.Position{RunningBytes: p.RunningBytes, PartIndex: p.PartIndex, Directory: p.Directory}
}

// FromQueue converts a queue.Position back to a Position.
func FromQueue(p queue.Position) Position {
	return Position{RunningBytes: p.RunningBytes, PartIndex: p.PartIndex, Directory: p.Directory}
}

// FileNumber is the multipart object's file number, floor(partIndex / maxPartsPerFile).
func (p Position) FileNumber(maxPartsPerFile uint64) uint64 {
	return p.PartIndex / maxPartsPerFile
}

// DirectoryFormatter renders "now" into a time-partitioned directory
// prefix, e.g. the default "yyyy/MM/dd" rendered via Go's reference-time
// layout equivalent.
type DirectoryFormatter func(now time.Time) string

// Advance is the pure state machine from spec.md §4.4: given the current
// position, a directory formatter, the size of the chunk about to be
// appended, and the wall clock, it returns the next position and the
// ordered list of side-effect actions the caller must enqueue.
//
// Rules, applied in order:
//  1. If the formatted directory differs from current.Directory, end the
//     current file and start a fresh one in the new directory at part 0.
//  2. Otherwise advance partIndex only once runningBytes has crossed
//     minPartSize; accumulate bytes onto the current part otherwise.
//  3. If advancing partIndex lands on a multiple of maxPartsPerFile, that's
//     a file rollover: end the old file, start the new one.
//  4. If the resulting runningBytes exceeds minPartSize, the part is ready
//     to upload.
func Advance(current Position, dirFormat DirectoryFormatter, chunkSize uint64, now time.Time, minPartSize, maxPartsPerFile uint64) (Position, []queue.Action) {
	newDir := dirFormat(now)

	if newDir != current.Directory {
		ended := current
		next := Position{RunningBytes: chunkSize, PartIndex: 0, Directory: newDir}
		return next, []queue.Action{
			queue.End(ended.ToQueue()),
			queue.Start(next.ToQueue()),
		}
	}

	partChanged := current.RunningBytes > minPartSize
	nextPart := current.PartIndex
	if partChanged {
		nextPart = current.PartIndex + 1
	}

	var nextBytes uint64
	if partChanged {
		nextBytes = chunkSize
	} else {
		nextBytes = current.RunningBytes + chunkSize
	}

	next := Position{RunningBytes: nextBytes, PartIndex: nextPart, Directory: current.Directory}

	var actions []queue.Action

	if partChanged && nextPart%maxPartsPerFile == 0 {
		actions = append(actions,
			queue.End(current.ToQueue()),
			queue.Start(next.ToQueue()),
		)
	}

	if nextBytes > minPartSize {
		actions = append(actions, queue.Upload(next.ToQueue()))
	}

	return next, actions
}
