package schedule_store

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"path"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/okieraised/relay-controller/internal/constants"
	"github.com/pkg/errors"
)

// ObjectAPI is the subset of the S3 client used by S3Store.
type ObjectAPI interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Store keeps the JSON document of FileStore in one object.
type S3Store struct {
	mu     sync.Mutex
	api    ObjectAPI
	bucket string
	key    string
}

func NewS3Store(api ObjectAPI, bucket, keyPrefix, controllerID string) *S3Store {
	return &S3Store{
		api:    api,
		bucket: bucket,
		key:    path.Join(keyPrefix, controllerID, "schedule_state.json"),
	}
}

func (s *S3Store) Key() string { return s.key }

func (s *S3Store) read(ctx context.Context) (map[string]string, error) {
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(s.key)})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return map[string]string{}, nil
		}
		return nil, errors.Wrapf(err, "get s3://%s/%s", s.bucket, s.key)
	}
	defer out.Body.Close()

	b, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read schedule state")
	}
	dates := map[string]string{}
	if len(b) > 0 {
		if err := json.Unmarshal(b, &dates); err != nil {
			return nil, errors.Wrap(err, "decode schedule state")
		}
	}
	return dates, nil
}

func (s *S3Store) LastFiredDate(ctx context.Context, eventID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dates, err := s.read(ctx)
	if err != nil {
		return "", err
	}
	return dates[eventID], nil
}

func (s *S3Store) SetLastFiredDate(ctx context.Context, eventID, date string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dates, err := s.read(ctx)
	if err != nil {
		return err
	}
	dates[eventID] = date
	b, err := json.Marshal(dates)
	if err != nil {
		return err
	}
	_, err = s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key),
		Body:        bytes.NewReader(b),
		ContentType: aws.String(constants.ContentTypeJSON),
	})
	return errors.Wrapf(err, "put s3://%s/%s", s.bucket, s.key)
}
