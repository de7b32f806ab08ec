package objectstore

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

// MockStore is an in-memory implementation of the Store interface for testing.
// Failures can be injected per operation and key with FailOn.
type MockStore struct {
	mu       sync.RWMutex
	objects  map[string]mockObject
	failures map[string]error
	deletes  []string
	puts     []string
}

type mockObject struct {
	data []byte
	meta ObjectMeta
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		objects:  make(map[string]mockObject),
		failures: make(map[string]error),
	}
}

// FailOn makes op ("Put", "Get", "Head", "Delete", "List", "HeadBucket")
// fail with err for key. An empty key matches every key. A nil err clears the failure.
func (s *MockStore) FailOn(op, key string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op+"|"+key)
		return
	}
	s.failures[op+"|"+key] = err
}

func (s *MockStore) failure(op, key string) error {
	if err, ok := s.failures[op+"|"+key]; ok {
		return &ObjectError{Op: op, Key: key, Err: err}
	}
	if err, ok := s.failures[op+"|"]; ok {
		return &ObjectError{Op: op, Key: key, Err: err}
	}
	return nil
}

// Keys returns every stored key in lexicographic order.
func (s *MockStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Deletes returns the keys passed to successful Delete calls, in call order.
func (s *MockStore) Deletes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.deletes...)
}

// Puts returns the keys written by successful Put calls, in call order.
func (s *MockStore) Puts() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.puts...)
}

func (s *MockStore) Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	return s.PutWithOptions(ctx, key, reader, size, contentType, PutOptions{})
}

func (s *MockStore) PutWithOptions(ctx context.Context, key string, reader io.Reader, size int64, contentType string, opts PutOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failure("Put", key); err != nil {
		return err
	}

	if opts.IfNoneMatch == "*" {
		if _, exists := s.objects[key]; exists {
			return &ObjectError{Op: "Put", Key: key, Err: ErrPreconditionFailed}
		}
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}

	s.objects[key] = mockObject{
		data: data,
		meta: ObjectMeta{
			Key:          key,
			Size:         int64(len(data)),
			ContentType:  contentType,
			ETag:         "mock-etag",
			LastModified: time.Now().UnixMilli(),
			Metadata:     opts.Metadata,
		},
	}
	s.puts = append(s.puts, key)
	return nil
}

func (s *MockStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.failure("Get", key); err != nil {
		return nil, err
	}
	obj, exists := s.objects[key]
	if !exists {
		return nil, &ObjectError{Op: "Get", Key: key, Err: ErrNotFound}
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (s *MockStore) Head(ctx context.Context, key string) (ObjectMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.failure("Head", key); err != nil {
		return ObjectMeta{}, err
	}
	obj, exists := s.objects[key]
	if !exists {
		return ObjectMeta{}, &ObjectError{Op: "Head", Key: key, Err: ErrNotFound}
	}
	return obj.meta, nil
}

func (s *MockStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failure("Delete", key); err != nil {
		return err
	}
	delete(s.objects, key)
	s.deletes = append(s.deletes, key)
	return nil
}

func (s *MockStore) List(ctx context.Context, prefix string) ([]ObjectMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.failure("List", prefix); err != nil {
		return nil, err
	}
	var result []ObjectMeta
	for key, obj := range s.objects {
		if strings.HasPrefix(key, prefix) {
			result = append(result, obj.meta)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Key < result[j].Key
	})
	return result, nil
}

// VerifyBucket fails only when a "HeadBucket" failure is injected.
func (s *MockStore) VerifyBucket(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.failure("HeadBucket", "")
}

func (s *MockStore) Close() error {
	return nil
}
