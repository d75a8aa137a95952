// Package awsutil loads shared AWS SDK configuration.
package awsutil

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
)

// Load resolves credentials and region the usual SDK way, with region overriding the
// environment when set.
func Load(ctx context.Context, region string, extra ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
	opts := append([]func(*awsconfig.LoadOptions) error(nil), extra...)
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return cfg, nil
}

// StaticCredentials pins a key pair, for S3-compatible stores such as MinIO that sit outside
// the default credential chain. Empty keys leave the chain alone.
func StaticCredentials(accessKey, secretKey string) func(*awsconfig.LoadOptions) error {
	return func(o *awsconfig.LoadOptions) error {
		if accessKey == "" || secretKey == "" {
			return nil
		}
		o.Credentials = credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")
		return nil
	}
}
