package objectstore

import "fmt"

// FileKey identifies one multipart object: a time-partitioned directory
// prefix plus the monotonically increasing file number within it.
type FileKey struct {
	Directory  string
	FileID     string // journal shard/instance identifier, folded into the object key
	FileNumber uint64
}

// Object renders the S3 object key for this file, matching spec.md §3's
// and §6's object key format: "<directory>/<id>-<fileNumber:06d>.journal".
func (k FileKey) Object() string {
	return fmt.Sprintf("%s/%s-%06d.journal", k.Directory, k.FileID, k.FileNumber)
}

// MultipartDescriptor identifies an in-progress (or just-completed)
// multipart upload.
type MultipartDescriptor struct {
	Key      FileKey
	UploadID string
}

// PartState is the durable record of one uploaded part: its ordinal and
// the ETag S3 returned, which CompleteMultipart must echo back verbatim.
type PartState struct {
	PartNumber int32
	ETag       string
	Size       int64
}
