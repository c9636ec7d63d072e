package journal

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/justapithecus/lode/lode"
	lodes3 "github.com/justapithecus/lode/lode/s3"
)

// DatasetID is the lode dataset every journal writes to.
const DatasetID = "sluice"

// Backends.
const (
	BackendFS     = "fs"
	BackendS3     = "s3"
	BackendMemory = "memory"
)

// partitionKeys is the Hive layout of the dataset.
var partitionKeys = []string{"day", "session_id", "channel"}

// NewDataset opens the journal dataset on factory.
func NewDataset(factory lode.StoreFactory) (lode.Dataset, error) {
	ds, err := lode.NewDataset(
		lode.DatasetID(DatasetID),
		factory,
		lode.WithHiveLayout(partitionKeys...),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
	if err != nil {
		return nil, wrapStorage("init", err)
	}
	return ds, nil
}

// NewFS opens the dataset under root on the local filesystem.
func NewFS(root string) (lode.Dataset, error) {
	return NewDataset(lode.NewFSFactory(root))
}

// NewMemory opens a dataset that lives only in memory.
func NewMemory() (lode.Dataset, error) {
	return NewDataset(lode.NewMemoryFactory())
}

// S3Config holds configuration for the S3 backend.
type S3Config struct {
	// Bucket is the S3 bucket name (required).
	Bucket string
	// Prefix is the key prefix within the bucket.
	Prefix string
	// Region is the AWS region; empty uses the default chain.
	Region string
	// Endpoint is a custom endpoint for S3-compatible stores.
	Endpoint string
	// UsePathStyle forces path-style addressing.
	UsePathStyle bool
}

// Validate checks that required S3 configuration is present.
func (c *S3Config) Validate() error {
	if c.Bucket == "" {
		return errors.New("S3 bucket is required")
	}
	return nil
}

// ParseS3Path splits "bucket/prefix" into its parts.
func ParseS3Path(path string) (bucket, prefix string) {
	bucket, prefix, _ = strings.Cut(path, "/")
	return bucket, prefix
}

// NewS3 opens the dataset in an S3 bucket. Credentials come from the AWS
// default chain.
func NewS3(ctx context.Context, cfg S3Config) (lode.Dataset, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		s3Opts = append(s3Opts, func(o *s3.Options) { o.BaseEndpoint = &endpoint })
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.UsePathStyle = true })
	}
	client := s3.NewFromConfig(awsConfig, s3Opts...)

	return NewDataset(func() (lode.Store, error) {
		return lodes3.New(client, lodes3.Config{Bucket: cfg.Bucket, Prefix: cfg.Prefix})
	})
}

// Open opens the dataset for backend. For fs, path is the root directory;
// for s3 it is "bucket/prefix" unless s3cfg names a bucket.
func Open(ctx context.Context, backend, path string, s3cfg S3Config) (lode.Dataset, error) {
	switch backend {
	case BackendFS:
		if path == "" {
			return nil, errors.New("fs journal requires a path")
		}
		return NewFS(path)
	case BackendS3:
		if s3cfg.Bucket == "" {
			s3cfg.Bucket, s3cfg.Prefix = ParseS3Path(path)
		}
		return NewS3(ctx, s3cfg)
	case BackendMemory:
		return NewMemory()
	}
	return nil, fmt.Errorf("unknown journal backend %q", backend)
}
