package s3

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/objectfs/accelerator/internal/config"
	"github.com/objectfs/accelerator/pkg/errors"
)

// LoadAWSConfig resolves the SDK configuration for cfg. Static keys take
// precedence over the default credential chain.
func LoadAWSConfig(ctx context.Context, cfg config.S3Config) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.MaxRetries > 0 {
		opts = append(opts, awsconfig.WithRetryMaxAttempts(cfg.MaxRetries))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, errors.NewError(errors.ErrCodeInitializationFailed, "failed to load AWS config").
			WithComponent("s3").
			WithCause(err)
	}
	return awsCfg, nil
}

// NewAPI builds an SDK client honouring the endpoint overrides in cfg.
func NewAPI(awsCfg aws.Config, cfg config.S3Config) *s3.Client {
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}
	})
}

// Load creates a Client from configuration.
func Load(ctx context.Context, cfg config.S3Config, opts ...Option) (*Client, error) {
	awsCfg, err := LoadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	opts = append([]Option{WithRequestTimeout(cfg.RequestTimeout)}, opts...)
	return New(NewAPI(awsCfg, cfg), opts...)
}
