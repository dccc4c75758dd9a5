package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"
)

// s3API is the subset of *s3.Client the archive uses
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Store archives zstd-compressed packs in an S3 bucket
type S3Store struct {
	client s3API
	bucket string
	prefix string
	codec  *zstdCodec
	logger *zap.Logger
}

// S3Options locates the archive bucket
type S3Options struct {
	Endpoint     string
	Region       string
	Bucket       string
	Prefix       string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// NewS3Client builds an S3 client. Static credentials are used when set,
// otherwise the default AWS credential chain applies.
func NewS3Client(ctx context.Context, opts S3Options) (*s3.Client, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(opts.Region)}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.UsePathStyle
	}), nil
}

// NewS3Store creates an archive under bucket/prefix
func NewS3Store(client s3API, bucket, prefix string, logger *zap.Logger) *S3Store {
	if prefix == "" {
		prefix = "audit-packs"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &S3Store{client: client, bucket: bucket, prefix: prefix, codec: newZstdCodec(), logger: logger}
}

func (s *S3Store) key(id string) string {
	return path.Join(s.prefix, id+".json.zst")
}

func (s *S3Store) Save(ctx context.Context, pack AuditPack) error {
	body, err := json.Marshal(pack)
	if err != nil {
		return fmt.Errorf("marshal pack: %w", err)
	}
	compressed, err := s.codec.Compress(body)
	if err != nil {
		return err
	}

	if _, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(s.bucket),
		Key:             aws.String(s.key(pack.AuditID)),
		Body:            bytes.NewReader(compressed),
		ContentType:     aws.String("application/json"),
		ContentEncoding: aws.String("zstd"),
		Metadata:        map[string]string{"manifest-hash": pack.ManifestHash},
	}); err != nil {
		return fmt.Errorf("put audit pack: %w", err)
	}

	if _, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path.Join(s.prefix, LatestID)),
		Body:   strings.NewReader(pack.AuditID),
	}); err != nil {
		return fmt.Errorf("put latest pointer: %w", err)
	}

	s.logger.Debug("archived audit pack",
		zap.String("audit_id", pack.AuditID),
		zap.Int("raw_bytes", len(body)),
		zap.Int("stored_bytes", len(compressed)),
	)
	return nil
}

func (s *S3Store) Get(ctx context.Context, id string) (AuditPack, error) {
	data, err := s.read(ctx, s.key(id), id)
	if err != nil {
		return AuditPack{}, err
	}
	raw, err := s.codec.Decompress(data)
	if err != nil {
		return AuditPack{}, err
	}
	var pack AuditPack
	if err := json.Unmarshal(raw, &pack); err != nil {
		return AuditPack{}, fmt.Errorf("decode audit pack %s: %w", id, err)
	}
	return pack, nil
}

func (s *S3Store) Latest(ctx context.Context) (AuditPack, error) {
	id, err := s.read(ctx, path.Join(s.prefix, LatestID), LatestID)
	if err != nil {
		return AuditPack{}, err
	}
	return s.Get(ctx, strings.TrimSpace(string(id)))
}

func (s *S3Store) List(ctx context.Context, limit int) ([]AuditPack, error) {
	out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix + "/"),
	})
	if err != nil {
		return nil, fmt.Errorf("list audit packs: %w", err)
	}

	var packs []AuditPack
	for _, obj := range out.Contents {
		key := aws.ToString(obj.Key)
		if !strings.HasSuffix(key, ".json.zst") {
			continue
		}
		pack, err := s.Get(ctx, strings.TrimSuffix(path.Base(key), ".json.zst"))
		if err != nil {
			return nil, err
		}
		packs = append(packs, pack)
	}
	sortNewestFirst(packs)
	if limit > 0 && len(packs) > limit {
		packs = packs[:limit]
	}
	return packs, nil
}

func (s *S3Store) read(ctx context.Context, key, id string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	defer func() { _ = out.Body.Close() }()
	return io.ReadAll(out.Body)
}
