package cloudfront

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront/types"
	"github.com/aws/smithy-go"
	"github.com/tendant/simple-invalidation/pkg/invalidation"
)

// Config options for the CloudFront provider
type Config struct {
	DistributionID  string // CloudFront distribution id (required)
	Region          string // AWS region for the control plane (default: us-east-1)
	AccessKeyID     string // Optional static credentials
	SecretAccessKey string
	SessionToken    string
	Endpoint        string // Optional custom endpoint, e.g. for local emulators
	Name            string // Optional provider name (default "cloudfront")
}

// API is the subset of the CloudFront client used by the provider
type API interface {
	CreateInvalidation(ctx context.Context, params *cloudfront.CreateInvalidationInput, optFns ...func(*cloudfront.Options)) (*cloudfront.CreateInvalidationOutput, error)
}

// Provider submits invalidations directly to CloudFront
type Provider struct {
	client         API
	distributionID string
	name           string
}

// New creates a CloudFront provider with its own SDK client
func New(config Config) (*Provider, error) {
	if config.DistributionID == "" {
		return nil, errors.New("distribution id is required")
	}
	if config.Region == "" {
		config.Region = "us-east-1"
	}

	// The pipeline owns retry policy, so the SDK must not retry on its own.
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(config.Region),
		awsconfig.WithRetryer(func() aws.Retryer {
			return aws.NopRetryer{}
		}),
	}
	if config.AccessKeyID != "" && config.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			config.AccessKeyID,
			config.SecretAccessKey,
			config.SessionToken,
		)))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var cfOptions []func(*cloudfront.Options)
	if config.Endpoint != "" {
		cfOptions = append(cfOptions, func(o *cloudfront.Options) {
			o.BaseEndpoint = aws.String(config.Endpoint)
		})
	}

	return NewWithClient(cloudfront.NewFromConfig(awsCfg, cfOptions...), config)
}

// NewWithClient creates a provider around an existing client
func NewWithClient(client API, config Config) (*Provider, error) {
	if client == nil {
		return nil, errors.New("cloudfront client is required")
	}
	if config.DistributionID == "" {
		return nil, errors.New("distribution id is required")
	}
	if config.Name == "" {
		config.Name = "cloudfront"
	}
	return &Provider{
		client:         client,
		distributionID: config.DistributionID,
		name:           config.Name,
	}, nil
}

// Name returns the provider name
func (p *Provider) Name() string {
	return p.name
}

// Submit creates one invalidation batch
func (p *Provider) Submit(ctx context.Context, req invalidation.SubmitRequest) (*invalidation.Invalidation, error) {
	if req.CallerReference == "" {
		return nil, invalidation.NewProviderError(p.name, "", "caller reference is required", 0, nil)
	}

	out, err := p.client.CreateInvalidation(ctx, &cloudfront.CreateInvalidationInput{
		DistributionId: aws.String(p.distributionID),
		InvalidationBatch: &types.InvalidationBatch{
			CallerReference: aws.String(req.CallerReference),
			Paths: &types.Paths{
				Quantity: aws.Int32(int32(len(req.Paths))),
				Items:    req.Paths,
			},
		},
	})
	if err != nil {
		return nil, p.translateError(err)
	}
	if out == nil || out.Invalidation == nil {
		return nil, invalidation.NewProviderError(p.name, "bad_response", "CloudFront returned no invalidation", 0, nil)
	}

	return &invalidation.Invalidation{
		ID:              aws.ToString(out.Invalidation.Id),
		Status:          aws.ToString(out.Invalidation.Status),
		Provider:        p.name,
		DistributionID:  p.distributionID,
		CallerReference: req.CallerReference,
	}, nil
}

// translateError turns service-side errors into provider errors and leaves
// transport errors untouched so the pipeline classifies them as gateway
// failures.
func (p *Provider) translateError(err error) error {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return err
	}

	status := 0
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		status = respErr.HTTPStatusCode()
	}

	msg := apiErr.ErrorMessage()
	if msg == "" {
		msg = apiErr.ErrorCode()
	}
	return invalidation.NewProviderError(p.name, apiErr.ErrorCode(), msg, status, err)
}
