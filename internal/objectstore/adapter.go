// Package objectstore implements spec.md §4.1's ObjectStoreAdapter: the
// journal's sole collaborator with the durable object store, modeling
// objects as append-as-multipart-parts uploads rather than whole-file
// blocks.
package objectstore

import "context"

// Store is the ObjectStoreAdapter contract. Every method returns *Error on
// failure so callers can classify retry-vs-propagate per spec.md §7.
type Store interface {
	// InitMultipart begins a new multipart upload for key.
	InitMultipart(ctx context.Context, key FileKey) (MultipartDescriptor, error)

	// UploadPart uploads one part of an in-progress multipart upload.
	// The caller must guarantee last == true or len(data) > the store's
	// minimum part size — S3 rejects any non-final part under 5 MiB, and
	// the store returns CodeFatal rather than attempting the call when
	// this precondition is violated, since retrying cannot fix it.
	UploadPart(ctx context.Context, desc MultipartDescriptor, partNumber int32, data []byte, last bool) (PartState, error)

	// CompleteMultipart finalizes the upload with the given parts, which
	// must be in ascending PartNumber order. If parts is empty, the
	// implementation substitutes an AbortMultipart call — S3 rejects
	// CompleteMultipartUpload with zero parts, and an upload that never
	// received data has nothing to complete.
	CompleteMultipart(ctx context.Context, desc MultipartDescriptor, parts []PartState) error

	// AbortMultipart cancels an in-progress multipart upload, releasing
	// any parts S3 is holding for it.
	AbortMultipart(ctx context.Context, desc MultipartDescriptor) error

	// ListComplete enumerates object keys already completed under
	// directory.
	ListComplete(ctx context.Context, directory string) ([]FileKey, error)

	// ListMultipart enumerates multipart uploads still in progress under
	// directory — used at startup to reconcile abandoned uploads.
	ListMultipart(ctx context.Context, directory string) ([]MultipartDescriptor, error)

	// ListParts enumerates the parts S3 has already received for desc,
	// used to resume an in-progress upload after a crash.
	ListParts(ctx context.Context, desc MultipartDescriptor) ([]PartState, error)
}
