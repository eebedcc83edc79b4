package mainconfig

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	appconfig "github.com/wolfman30/greanly/internal/config"
)

// LoadAWSConfig builds the SDK config behind the Bedrock clients (chat and
// embeddings) and the S3 client that reads knowledge manifests.
//
// AWS_ENDPOINT_OVERRIDE points every client at one endpoint, which is how
// LocalStack runs. A service-specific AWS_ENDPOINT_URL_BEDROCK_RUNTIME or
// AWS_ENDPOINT_URL_S3 still wins for that service; the SDK resolves those on
// its own.
func LoadAWSConfig(ctx context.Context, cfg *appconfig.Config) (aws.Config, error) {
	loaders := []func(*config.LoadOptions) error{config.WithRegion(cfg.AWSRegion)}
	if strings.TrimSpace(cfg.AWSAccessKeyID) != "" && strings.TrimSpace(cfg.AWSSecretAccessKey) != "" {
		loaders = append(loaders, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, ""),
		))
	}
	if endpoint := strings.TrimSpace(cfg.AWSEndpointOverride); endpoint != "" {
		loaders = append(loaders, config.WithBaseEndpoint(endpoint))
	}
	return config.LoadDefaultConfig(ctx, loaders...)
}

// NewKnowledgeS3Client returns the client used to fetch manifest sources.
// Behind an endpoint override buckets are addressed by path, since a local
// endpoint has no per-bucket hostnames.
func NewKnowledgeS3Client(awsCfg aws.Config, cfg *appconfig.Config) *s3.Client {
	pathStyle := strings.TrimSpace(cfg.AWSEndpointOverride) != ""
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = pathStyle
	})
}
