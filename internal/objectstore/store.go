// Package objectstore defines the Store interface for S3-compatible storage.
//
// The reaper talks to three buckets through this abstraction: the image
// bucket holding the derived artifacts of every record, the audit bucket
// receiving batch reports, and the bucket holding the pause sentinel. Each
// bucket is represented by its own Store value.
//
// # Usage
//
//	images, err := s3.New(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer images.Close()
//	audit := images.ForBucket(auditBucket)
//
//	// Conditional create of an audit report
//	err = audit.PutWithOptions(ctx, key, r, size, "application/json",
//	    objectstore.PutOptions{IfNoneMatch: "*"})
//	if errors.Is(err, objectstore.ErrPreconditionFailed) {
//	    // A report already exists at key
//	}
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// Common errors returned by Store implementations.
var (
	// ErrNotFound is returned when the requested object does not exist.
	ErrNotFound = errors.New("object not found")

	// ErrPreconditionFailed is returned when a conditional write fails
	// (e.g., If-None-Match on an existing key).
	ErrPreconditionFailed = errors.New("precondition failed")

	// ErrBucketNotFound is returned when the configured bucket does not exist.
	ErrBucketNotFound = errors.New("bucket not found")

	// ErrAccessDenied is returned when the credentials lack permission for the operation.
	ErrAccessDenied = errors.New("access denied")
)

// ObjectError wraps an error with the object key for context.
type ObjectError struct {
	Op  string // Operation that failed (e.g., "Put", "Get", "Delete")
	Key string // Object key
	Err error  // Underlying error
}

func (e *ObjectError) Error() string {
	return fmt.Sprintf("objectstore: %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *ObjectError) Unwrap() error {
	return e.Err
}

// ObjectMeta contains metadata about an object.
type ObjectMeta struct {
	// Key is the object's key (path) in the bucket.
	Key string

	// Size is the object's size in bytes.
	Size int64

	// ContentType is the MIME type of the object.
	ContentType string

	// ETag is the entity tag reported by the provider.
	ETag string

	// LastModified is the Unix timestamp (milliseconds) when the object was last modified.
	LastModified int64

	// Metadata contains user-defined key-value metadata.
	Metadata map[string]string
}

// PutOptions configures a Put operation.
type PutOptions struct {
	// Metadata is optional user-defined key-value pairs stored with the object.
	Metadata map[string]string

	// IfNoneMatch when set to "*" causes the Put to fail with ErrPreconditionFailed
	// if an object already exists at the key.
	IfNoneMatch string
}

// Store is the interface for operations against a single bucket.
//
// Thread Safety: Implementations must be safe for concurrent use.
type Store interface {
	// Put stores an object at the given key.
	Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error

	// PutWithOptions stores an object with conditional-write and metadata options.
	PutWithOptions(ctx context.Context, key string, reader io.Reader, size int64, contentType string, opts PutOptions) error

	// Get retrieves an entire object. The caller must close the returned reader.
	// Returns ErrNotFound if the object doesn't exist.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Head retrieves object metadata without the body.
	// Returns ErrNotFound if the object doesn't exist.
	Head(ctx context.Context, key string) (ObjectMeta, error)

	// Delete removes an object.
	//
	// Delete is idempotent: deleting a non-existent object succeeds silently.
	Delete(ctx context.Context, key string) error

	// List returns objects matching the given prefix in lexicographic order.
	List(ctx context.Context, prefix string) ([]ObjectMeta, error)

	// Close releases resources associated with the store.
	Close() error
}

// Exists reports whether an object is present at key. A missing object is
// not an error; any other failure is returned as-is.
func Exists(ctx context.Context, store Store, key string) (bool, error) {
	_, err := store.Head(ctx, key)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return false, err
}

// BucketVerifier is implemented by stores that can confirm their bucket
// exists. A HEAD of a key in a missing bucket is indistinguishable from a
// missing object on some providers.
type BucketVerifier interface {
	VerifyBucket(ctx context.Context) error
}

// VerifyBucket checks the bucket behind store. Stores that do not implement
// BucketVerifier are assumed to have one.
func VerifyBucket(ctx context.Context, store Store) error {
	if v, ok := store.(BucketVerifier); ok {
		return v.VerifyBucket(ctx)
	}
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
