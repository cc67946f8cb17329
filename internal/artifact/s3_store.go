package artifact

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/gabriel-vasile/mimetype"

	"convertd/internal/config"
	"convertd/internal/services"
)

// S3API is the subset of the S3 client used by S3Store.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Store keeps artifacts at {prefix}{job_id}/{stored_name} in one bucket.
type S3Store struct {
	client S3API
	bucket string
	prefix string
}

// NewS3Store builds an S3 client from cfg. Static credentials are used when
// configured; otherwise the SDK's default chain (AWS_* env, shared config,
// instance roles) applies.
func NewS3Store(ctx context.Context, cfg config.Storage) (*S3Store, error) {
	if strings.TrimSpace(cfg.S3Bucket) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "artifact", "open", "storage.s3_bucket is required", nil)
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.S3Region),
	}
	if cfg.S3AccessKey != "" && cfg.S3SecretKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "artifact", "open", "load AWS config", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
		o.UsePathStyle = cfg.S3PathStyle
	})
	return NewS3StoreWithClient(client, cfg.S3Bucket, cfg.S3Prefix), nil
}

// NewS3StoreWithClient wraps an existing client.
func NewS3StoreWithClient(client S3API, bucket, prefix string) *S3Store {
	return &S3Store{client: client, bucket: bucket, prefix: prefix}
}

// Ping checks that the bucket is reachable with the configured credentials.
func (s *S3Store) Ping(ctx context.Context) error {
	_, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		Prefix:  aws.String(s.prefix),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return services.Wrap(services.ErrTransient, "artifact", "ping", s.bucket, err)
	}
	return nil
}

func (s *S3Store) key(jobID, storedName string) string {
	return s.prefix + jobID + "/" + storedName
}

func (s *S3Store) Put(ctx context.Context, jobID, name string, data []byte) (Record, error) {
	if err := ValidateJobID(jobID); err != nil {
		return Record{}, err
	}
	if err := validateName(name); err != nil {
		return Record{}, err
	}
	stored := StoredName(jobID, name)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key(jobID, stored)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(mimetype.Detect(data).String()),
	})
	if err != nil {
		return Record{}, services.Wrap(services.ErrStorage, "artifact", "put", stored, err)
	}
	return Record{JobID: jobID, StoredName: stored, Size: int64(len(data)), CreatedAt: time.Now().UTC()}, nil
}

func (s *S3Store) Find(ctx context.Context, jobID string) (Record, bool, error) {
	if ValidateJobID(jobID) != nil {
		return Record{}, false, nil
	}
	out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		Prefix:  aws.String(s.prefix + jobID + "/" + jobID + "_"),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return Record{}, false, services.Wrap(services.ErrStorage, "artifact", "find", jobID, err)
	}
	if len(out.Contents) == 0 {
		return Record{}, false, nil
	}
	return recordFromObject(jobID, out.Contents[0]), true, nil
}

func (s *S3Store) Open(ctx context.Context, storedName string) (io.ReadCloser, Record, error) {
	jobID, ok := SplitStoredName(storedName)
	if !ok {
		return nil, Record{}, ErrNotFound
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(jobID, storedName)),
	})
	if err != nil {
		if isMissing(err) {
			return nil, Record{}, ErrNotFound
		}
		return nil, Record{}, services.Wrap(services.ErrStorage, "artifact", "open", storedName, err)
	}
	rec := Record{JobID: jobID, StoredName: storedName}
	if out.ContentLength != nil {
		rec.Size = *out.ContentLength
	}
	if out.LastModified != nil {
		rec.CreatedAt = *out.LastModified
	}
	return out.Body, rec, nil
}

func (s *S3Store) List(ctx context.Context) ([]Record, error) {
	var records []Record
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return records, services.Wrap(services.ErrStorage, "artifact", "list", s.bucket, err)
		}
		for _, obj := range page.Contents {
			jobID, ok := SplitStoredName(path.Base(aws.ToString(obj.Key)))
			if !ok {
				continue
			}
			records = append(records, recordFromObject(jobID, obj))
		}
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	return records, nil
}

// Remove deletes storedName. DeleteObject succeeds for missing keys, so a
// HEAD request distinguishes "already gone".
func (s *S3Store) Remove(ctx context.Context, storedName string) error {
	jobID, ok := SplitStoredName(storedName)
	if !ok {
		return ErrNotFound
	}
	key := s.key(jobID, storedName)
	if _, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)}); err != nil {
		if isMissing(err) {
			return ErrNotFound
		}
		return services.Wrap(services.ErrStorage, "artifact", "remove", storedName, err)
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)}); err != nil {
		return services.Wrap(services.ErrStorage, "artifact", "remove", storedName, err)
	}
	return nil
}

func recordFromObject(jobID string, obj types.Object) Record {
	rec := Record{JobID: jobID, StoredName: path.Base(aws.ToString(obj.Key))}
	if obj.Size != nil {
		rec.Size = *obj.Size
	}
	if obj.LastModified != nil {
		rec.CreatedAt = *obj.LastModified
	}
	return rec
}

func isMissing(err error) bool {
	var noKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noKey) || errors.As(err, &notFound) {
		return true
	}
	return errors.Is(err, ErrNotFound)
}
