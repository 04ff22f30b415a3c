package aws

import (
	"bytes"
	"context"
	"cowrite-server/core"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// fakeS3 is an in-memory bucket implementing objectAPI.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	fail    error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	f.objects[aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	if _, ok := f.objects[aws.ToString(in.Key)]; !ok {
		return nil, &s3types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	for _, k := range keys {
		out.Contents = append(out.Contents, s3types.Object{Key: aws.String(k)})
	}
	return out, nil
}

func TestS3Store_Lifecycle(t *testing.T) {
	fake := newFakeS3()
	store := newStore(fake, "bucket")
	ctx := context.Background()

	if err := store.Create(ctx, &core.Document{ID: "team/doc 1", Owner: "alice"}); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if _, ok := fake.objects["documents/team%2Fdoc%201.json"]; !ok {
		t.Errorf("object keys = %v", fake.objects)
	}
	if err := store.Create(ctx, &core.Document{ID: "team/doc 1"}); !errors.Is(err, core.ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}

	if err := store.Upsert(ctx, "team/doc 1", []byte(`["a"]`), "Named"); err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}
	doc, err := store.FindID(ctx, "team/doc 1")
	if err != nil {
		t.Fatalf("FindID() failed: %v", err)
	}
	if string(doc.Content) != `["a"]` || doc.Title != "Named" || doc.Owner != "alice" {
		t.Errorf("FindID() = %+v", doc)
	}

	doc.IsPublic = true
	if err := store.Update(ctx, doc); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	docs, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(docs) != 1 || docs[0].ID != "team/doc 1" || !docs[0].IsPublic || docs[0].Content != nil {
		t.Errorf("List() = %+v", docs)
	}

	if err := store.Delete(ctx, "team/doc 1"); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if err := store.Delete(ctx, "team/doc 1"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.FindID(ctx, "team/doc 1"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestS3Store_UpsertReinserts(t *testing.T) {
	store := newStore(newFakeS3(), "bucket")
	ctx := context.Background()

	if err := store.Upsert(ctx, "gone", []byte(`["x"]`), ""); err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}
	doc, _ := store.FindID(ctx, "gone")
	if !doc.Ownerless() || doc.Title != core.DefaultTitle {
		t.Errorf("re-inserted = %+v", doc)
	}
}

func TestS3Store_Unavailable(t *testing.T) {
	fake := newFakeS3()
	fake.fail = errors.New("connection reset")
	store := newStore(fake, "bucket")
	ctx := context.Background()

	if _, err := store.FindID(ctx, "doc"); !errors.Is(err, core.ErrStoreUnavailable) {
		t.Errorf("FindID(): expected ErrStoreUnavailable, got %v", err)
	}
	if err := store.Upsert(ctx, "doc", []byte("[]"), ""); !errors.Is(err, core.ErrStoreUnavailable) {
		t.Errorf("Upsert(): expected ErrStoreUnavailable, got %v", err)
	}
	if _, err := store.List(ctx); !errors.Is(err, core.ErrStoreUnavailable) {
		t.Errorf("List(): expected ErrStoreUnavailable, got %v", err)
	}
}
