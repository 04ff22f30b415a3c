package aws

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"cowrite-server/core"
	"cowrite-server/stores/record"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sirupsen/logrus"
)

const keyPrefix = "documents/"

// objectAPI is the subset of the S3 client the store uses.
type objectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// s3Store keeps one JSON object per document. S3 offers no transactions, so
// read-modify-write sequences are serialized within this process.
type s3Store struct {
	client objectAPI
	bucket string
	mu     sync.Mutex
}

// NewDocumentStore creates an S3 backed store using the default AWS
// credential chain.
func NewDocumentStore(ctx context.Context, bucketName string) (core.DocumentStore, error) {
	if bucketName == "" {
		return nil, errors.New("s3 bucket name is required")
	}
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS SDK config: %w", err)
	}
	return newStore(s3.NewFromConfig(cfg), bucketName), nil
}

func newStore(client objectAPI, bucket string) *s3Store {
	return &s3Store{client: client, bucket: bucket}
}

func objectKey(id string) string {
	return keyPrefix + url.PathEscape(id) + ".json"
}

func isNotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	var nf *s3types.NotFound
	return errors.As(err, &nsk) || errors.As(err, &nf)
}

func (s *s3Store) get(ctx context.Context, id string) (*core.Document, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey(id)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, core.NotFoundf("document with id %s", id)
		}
		return nil, core.Unavailable(fmt.Errorf("get document %s: %w", id, err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, core.Unavailable(fmt.Errorf("read document %s: %w", id, err))
	}
	doc, err := record.Unmarshal(data)
	if err != nil {
		return nil, core.Unavailable(err)
	}
	return doc, nil
}

func (s *s3Store) put(ctx context.Context, doc *core.Document) error {
	data, err := record.Marshal(doc)
	if err != nil {
		return core.Unavailable(err)
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(objectKey(doc.ID)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return core.Unavailable(fmt.Errorf("put document %s: %w", doc.ID, err))
	}
	return nil
}

func (s *s3Store) FindID(ctx context.Context, id string) (*core.Document, error) {
	doc, err := s.get(ctx, id)
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		logrus.WithField("document_id", id).WithError(err).Error("Failed to retrieve document")
	}
	return doc, err
}

func (s *s3Store) Create(ctx context.Context, document *core.Document) error {
	if document.ID == "" {
		return core.Validationf("document id is required")
	}
	log := logrus.WithFields(logrus.Fields{"document_id": document.ID, "bucket": s.bucket})

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey(document.ID)),
	})
	if err == nil {
		return fmt.Errorf("document with id %s: %w", document.ID, core.ErrConflict)
	}
	if !isNotFound(err) {
		log.WithError(err).Error("Failed to check for existing document")
		return core.Unavailable(err)
	}

	record.Prepare(document, time.Now().UTC())
	if err := s.put(ctx, document); err != nil {
		log.WithError(err).Error("Failed to create document")
		return err
	}

	log.Info("Document created successfully")
	return nil
}

func (s *s3Store) Upsert(ctx context.Context, id string, content []byte, title string) error {
	if id == "" {
		return core.Validationf("document id is required")
	}
	log := logrus.WithFields(logrus.Fields{"document_id": id, "data_length": len(content)})

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := s.get(ctx, id)
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		log.WithError(err).Error("Failed to read document for upsert")
		return err
	}
	if stored == nil {
		log.Warn("Document vanished, re-inserting as ownerless")
	}
	return s.put(ctx, record.Snapshot(stored, id, content, title, time.Now().UTC()))
}

func (s *s3Store) Update(ctx context.Context, document *core.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := s.get(ctx, document.ID)
	if err != nil {
		return err
	}
	merged := record.Merge(stored, document, time.Now().UTC())
	if err := s.put(ctx, merged); err != nil {
		return err
	}
	document.UpdatedAt = merged.UpdatedAt
	return nil
}

func (s *s3Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := aws.String(objectKey(id))
	// DeleteObject succeeds for missing keys, so check first
	if _, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.bucket), Key: key}); err != nil {
		if isNotFound(err) {
			return core.NotFoundf("document with id %s", id)
		}
		return core.Unavailable(err)
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(s.bucket), Key: key}); err != nil {
		return core.Unavailable(fmt.Errorf("delete document %s: %w", id, err))
	}
	logrus.WithField("document_id", id).Info("Document deleted successfully")
	return nil
}

func (s *s3Store) List(ctx context.Context) ([]*core.Document, error) {
	log := logrus.WithField("bucket", s.bucket)

	var docs []*core.Document
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(keyPrefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			log.WithError(err).Error("Failed to list documents")
			return nil, core.Unavailable(err)
		}
		for _, object := range page.Contents {
			key := aws.ToString(object.Key)
			id, err := url.PathUnescape(strings.TrimSuffix(strings.TrimPrefix(key, keyPrefix), ".json"))
			if err != nil {
				log.WithError(err).Warnf("Skipping unexpected object %s", key)
				continue
			}
			doc, err := s.get(ctx, id)
			if err != nil {
				log.WithError(err).Warnf("Failed to read object %s, skipping", key)
				continue
			}
			doc.Content = nil
			docs = append(docs, doc)
		}
	}

	record.Sort(docs)
	return docs, nil
}
