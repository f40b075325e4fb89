package objectstore

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
)

// FakeStore is an in-memory Store used by tests, including the fault
// injection the spec's "random transient failures" and "streaked
// outages" scenarios call for.
type FakeStore struct {
	mu sync.Mutex

	minPartSize int64
	nextUpload  int

	multiparts map[string]*fakeUpload // uploadID -> upload
	complete   map[string][]byte      // object key -> concatenated part bytes, in part order

	// FailProbability, when > 0, makes every call fail transiently with
	// that probability (0..1), using Rand if set; otherwise a source
	// seeded with 1 is created on first use and stored in Rand.
	FailProbability float64
	Rand            *rand.Rand

	// FailStreak, when > 0, makes the next FailStreak calls fail
	// transiently regardless of FailProbability, counting down by one per
	// call — modeling spec.md §8's "streaked outages" scenario.
	FailStreak int
}

type fakeUpload struct {
	key      FileKey
	parts    map[int32]PartState
	partData map[int32][]byte
}

// NewFakeStore constructs an empty FakeStore.
func NewFakeStore(minPartSize int64) *FakeStore {
	return &FakeStore{
		minPartSize: minPartSize,
		multiparts:  make(map[string]*fakeUpload),
		complete:    make(map[string][]byte),
	}
}

func (f *FakeStore) shouldFail() bool {
	if f.FailStreak > 0 {
		f.FailStreak--
		return true
	}
	if f.FailProbability <= 0 {
		return false
	}
	r := f.Rand
	if r == nil {
		r = rand.New(rand.NewSource(1))
		f.Rand = r
	}
	return r.Float64() < f.FailProbability
}

func (f *FakeStore) InitMultipart(ctx context.Context, key FileKey) (MultipartDescriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.shouldFail() {
		return MultipartDescriptor{}, newError(CodeTransient, key.Object(), "fake: injected failure", nil)
	}

	f.nextUpload++
	uploadID := fmt.Sprintf("fake-upload-%d", f.nextUpload)
	f.multiparts[uploadID] = &fakeUpload{key: key, parts: make(map[int32]PartState), partData: make(map[int32][]byte)}

	return MultipartDescriptor{Key: key, UploadID: uploadID}, nil
}

func (f *FakeStore) UploadPart(ctx context.Context, desc MultipartDescriptor, partNumber int32, data []byte, last bool) (PartState, error) {
	if !last && int64(len(data)) <= f.minPartSize {
		return PartState{}, newError(CodeFatal, desc.Key.Object(),
			fmt.Sprintf("non-final part %d below minimum part size", partNumber), nil)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.shouldFail() {
		return PartState{}, newError(CodeTransient, desc.Key.Object(), "fake: injected failure", nil)
	}

	u, ok := f.multiparts[desc.UploadID]
	if !ok {
		return PartState{}, newError(CodeNotFound, desc.Key.Object(), "fake: no such upload", nil)
	}

	ps := PartState{PartNumber: partNumber, ETag: fmt.Sprintf("etag-%s-%d", desc.UploadID, partNumber), Size: int64(len(data))}
	u.parts[partNumber] = ps
	buf := make([]byte, len(data))
	copy(buf, data)
	u.partData[partNumber] = buf
	return ps, nil
}

func (f *FakeStore) CompleteMultipart(ctx context.Context, desc MultipartDescriptor, parts []PartState) error {
	if len(parts) == 0 {
		return f.AbortMultipart(ctx, desc)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.shouldFail() {
		return newError(CodeTransient, desc.Key.Object(), "fake: injected failure", nil)
	}

	u, ok := f.multiparts[desc.UploadID]
	if !ok {
		return newError(CodeNotFound, desc.Key.Object(), "fake: no such upload", nil)
	}

	sorted := make([]PartState, len(parts))
	copy(sorted, parts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].PartNumber < sorted[j].PartNumber })

	var body []byte
	for _, p := range sorted {
		if _, ok := u.parts[p.PartNumber]; !ok {
			return newError(CodeFatal, desc.Key.Object(), fmt.Sprintf("fake: part %d not uploaded", p.PartNumber), nil)
		}
		body = append(body, u.partData[p.PartNumber]...)
	}

	delete(f.multiparts, desc.UploadID)
	f.complete[desc.Key.Object()] = body
	return nil
}

func (f *FakeStore) AbortMultipart(ctx context.Context, desc MultipartDescriptor) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.shouldFail() {
		return newError(CodeTransient, desc.Key.Object(), "fake: injected failure", nil)
	}

	delete(f.multiparts, desc.UploadID)
	return nil
}

func (f *FakeStore) ListComplete(ctx context.Context, directory string) ([]FileKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.shouldFail() {
		return nil, newError(CodeTransient, directory, "fake: injected failure", nil)
	}

	var keys []FileKey
	for object := range f.complete {
		key, err := parseObjectKey(directory, object)
		if err != nil || key.Directory != directory {
			continue
		}
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].FileNumber < keys[j].FileNumber })
	return keys, nil
}

func (f *FakeStore) ListMultipart(ctx context.Context, directory string) ([]MultipartDescriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.shouldFail() {
		return nil, newError(CodeTransient, directory, "fake: injected failure", nil)
	}

	var descs []MultipartDescriptor
	for uploadID, u := range f.multiparts {
		if u.key.Directory != directory {
			continue
		}
		descs = append(descs, MultipartDescriptor{Key: u.key, UploadID: uploadID})
	}
	sort.Slice(descs, func(i, j int) bool { return descs[i].Key.FileNumber < descs[j].Key.FileNumber })
	return descs, nil
}

func (f *FakeStore) ListParts(ctx context.Context, desc MultipartDescriptor) ([]PartState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.shouldFail() {
		return nil, newError(CodeTransient, desc.Key.Object(), "fake: injected failure", nil)
	}

	u, ok := f.multiparts[desc.UploadID]
	if !ok {
		return nil, newError(CodeNotFound, desc.Key.Object(), "fake: no such upload", nil)
	}

	parts := make([]PartState, 0, len(u.parts))
	for _, p := range u.parts {
		parts = append(parts, p)
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].PartNumber < parts[j].PartNumber })
	return parts, nil
}

// Contents returns the bytes completed for key's object, for tests that
// need to assert on actual journal payloads rather than just key
// existence.
func (f *FakeStore) Contents(key FileKey) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	body, ok := f.complete[key.Object()]
	return body, ok
}

// AllContents concatenates every completed object under directory, in
// ascending file-number order, giving the full journal payload for
// that directory across however many files it rolled into.
func (f *FakeStore) AllContents(directory string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()

	var keys []FileKey
	for object := range f.complete {
		key, err := parseObjectKey(directory, object)
		if err != nil || key.Directory != directory {
			continue
		}
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].FileNumber < keys[j].FileNumber })

	var out []byte
	for _, k := range keys {
		out = append(out, f.complete[k.Object()]...)
	}
	return out
}

var _ Store = (*FakeStore)(nil)
