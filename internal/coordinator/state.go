package coordinator

import (
	"github.com/factual/s3journal/internal/objectstore"
	"github.com/factual/s3journal/internal/queue"
)

// uploadState is the single piece of mutable state the coordinator owns
// per topic: the in-progress multipart descriptor (nil until Start is
// processed), the parts already durably uploaded, the bytes buffered
// since the last UploadPart call, and the task handles of every Conj
// that contributed bytes to the current buffer. Those tasks stay
// outstanding in the durable queue — never Completed — until the part
// they fed actually uploads, so a crash before that upload replays them
// instead of silently losing their bytes (spec.md §4.6). Exactly one
// goroutine — the topic's dispatch loop — ever touches a given
// uploadState, so it needs no internal locking of its own (spec.md §9's
// single-writer design).
type uploadState struct {
	desc         *objectstore.MultipartDescriptor
	key          objectstore.FileKey
	parts        []objectstore.PartState
	buffer       []byte
	pendingTasks []*queue.Task
}

func (s *uploadState) nextPartNumber() int32 {
	return int32(len(s.parts)) + 1
}

func (s *uploadState) recordPart(p objectstore.PartState) {
	s.parts = append(s.parts, p)
}

// addPending records a task whose bytes are now in buffer but not yet
// durably uploaded as a part.
func (s *uploadState) addPending(t *queue.Task) {
	s.pendingTasks = append(s.pendingTasks, t)
}

// takePending returns and clears the tasks contributing to the buffer
// just uploaded.
func (s *uploadState) takePending() []*queue.Task {
	pending := s.pendingTasks
	s.pendingTasks = nil
	return pending
}
