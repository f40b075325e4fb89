package position

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/factual/s3journal/internal/queue"
)

func fixedFormatter(dir string) DirectoryFormatter {
	return func(time.Time) string { return dir }
}

const (
	minPartSize     = 5 * 1024 * 1024
	maxPartsPerFile = 500
)

func TestAdvance_AccumulatesWithinPart(t *testing.T) {
	current := Position{RunningBytes: 0, PartIndex: 0, Directory: "2026/07/29"}

	next, actions := Advance(current, fixedFormatter("2026/07/29"), 1024, time.Now(), minPartSize, maxPartsPerFile)

	assert.Equal(t, uint64(1024), next.RunningBytes)
	assert.Equal(t, uint64(0), next.PartIndex)
	assert.Empty(t, actions)
}

func TestAdvance_CrossesMinPartSize_EmitsUpload(t *testing.T) {
	current := Position{RunningBytes: minPartSize, PartIndex: 0, Directory: "2026/07/29"}

	next, actions := Advance(current, fixedFormatter("2026/07/29"), 10, time.Now(), minPartSize, maxPartsPerFile)

	assert.Equal(t, uint64(0), next.PartIndex)
	if assert.Len(t, actions, 1) {
		assert.Equal(t, queue.KindUpload, actions[0].Kind)
	}
}

func TestAdvance_DirectoryRollover_EndsThenStarts(t *testing.T) {
	current := Position{RunningBytes: 100, PartIndex: 7, Directory: "2026/07/28"}

	next, actions := Advance(current, fixedFormatter("2026/07/29"), 50, time.Now(), minPartSize, maxPartsPerFile)

	assert.Equal(t, "2026/07/29", next.Directory)
	assert.Equal(t, uint64(0), next.PartIndex)
	if assert.Len(t, actions, 2) {
		assert.Equal(t, queue.KindEnd, actions[0].Kind)
		assert.Equal(t, queue.KindStart, actions[1].Kind)
	}
}

func TestAdvance_FileRollover_AtMaxPartsPerFile(t *testing.T) {
	// One below a file boundary, with enough bytes to force a part change.
	current := Position{RunningBytes: minPartSize + 1, PartIndex: maxPartsPerFile - 1, Directory: "2026/07/29"}

	next, actions := Advance(current, fixedFormatter("2026/07/29"), 10, time.Now(), minPartSize, maxPartsPerFile)

	assert.Equal(t, uint64(maxPartsPerFile), next.PartIndex)
	if assert.GreaterOrEqual(t, len(actions), 2) {
		assert.Equal(t, queue.KindEnd, actions[0].Kind)
		assert.Equal(t, queue.KindStart, actions[1].Kind)
	}
}

func TestAdvance_IsPure(t *testing.T) {
	current := Position{RunningBytes: 42, PartIndex: 3, Directory: "2026/07/29"}
	now := time.Now()

	next1, actions1 := Advance(current, fixedFormatter("2026/07/29"), 777, now, minPartSize, maxPartsPerFile)
	next2, actions2 := Advance(current, fixedFormatter("2026/07/29"), 777, now, minPartSize, maxPartsPerFile)

	assert.Equal(t, next1, next2)
	assert.Equal(t, actions1, actions2)
}
