package backup

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/mitchellh/mapstructure"

	"arkived/internal/logger"
)

// S3API is the subset of the S3 client the replicator needs.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Replicator uploads completed snapshots to an S3-compatible bucket.
type S3Replicator struct {
	client    S3API
	bucket    string
	keyPrefix string
}

// S3ReplicatorConfig holds the decoded offsite target settings.
type S3ReplicatorConfig struct {
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	KeyPrefix       string `mapstructure:"key_prefix"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	MaxRetries      int    `mapstructure:"max_retries"`
}

// NewS3Replicator builds a replicator from loosely-typed config options,
// the shape viper hands back for the offsite section.
func NewS3Replicator(ctx context.Context, options map[string]any) (*S3Replicator, error) {
	var cfg S3ReplicatorConfig
	if err := mapstructure.Decode(options, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode offsite backup config: %w", err)
	}

	if cfg.Bucket == "" {
		return nil, fmt.Errorf("offsite backup: bucket is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("offsite backup: region is required")
	}

	var configOptions []func(*awsConfig.LoadOptions) error
	configOptions = append(configOptions, awsConfig.WithRegion(cfg.Region))

	// Custom endpoint supports MinIO and Localstack targets.
	if cfg.Endpoint != "" {
		//nolint:staticcheck // TODO: migrate to BaseEndpoint when AWS SDK v2 stabilizes the new API
		customResolver := aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				//nolint:staticcheck // TODO: migrate to BaseEndpoint when AWS SDK v2 stabilizes the new API
				return aws.Endpoint{
					URL:               cfg.Endpoint,
					HostnameImmutable: true,
					Source:            aws.EndpointSourceCustom,
				}, nil
			},
		)
		//nolint:staticcheck // TODO: migrate to BaseEndpoint when AWS SDK v2 stabilizes the new API
		configOptions = append(configOptions, awsConfig.WithEndpointResolverWithOptions(customResolver))
	}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 10
	}
	configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxRetries
		})
	}))

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.UsePathStyle = true
		}
	})

	logger.Info("Offsite backup target initialized: bucket=%s, region=%s, prefix=%s",
		cfg.Bucket, cfg.Region, cfg.KeyPrefix)

	return &S3Replicator{client: client, bucket: cfg.Bucket, keyPrefix: cfg.KeyPrefix}, nil
}

// Replicate walks the dated snapshot directory and uploads every file under
// <prefix>/<date>/. Uploads stop at the first failure so a retried run
// re-covers the remainder.
func (r *S3Replicator) Replicate(localDir, date string) error {
	ctx := context.Background()

	return filepath.WalkDir(localDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}

		rel, rerr := filepath.Rel(localDir, p)
		if rerr != nil {
			return rerr
		}

		f, oerr := os.Open(p)
		if oerr != nil {
			return oerr
		}
		defer f.Close()

		key := path.Join(r.keyPrefix, date, filepath.ToSlash(rel))
		if _, perr := r.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(r.bucket),
			Key:    aws.String(key),
			Body:   f,
		}); perr != nil {
			return fmt.Errorf("failed to upload %s: %w", key, perr)
		}

		logger.Debug("Replicated %s to s3://%s/%s", rel, r.bucket, key)
		return nil
	})
}
