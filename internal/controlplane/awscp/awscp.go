// File: internal/controlplane/awscp/awscp.go
// Brief: AWS wiring, permission preflight, and error classification.

// Package awscp binds the vendor-neutral control-plane interfaces to AWS:
// CloudFormation stacks, Lambda aliases, S3 asset sets, CloudFront cache,
// and CloudWatch metrics. Credentials and region come from the standard AWS
// environment and are never parsed here.
package awscp

import (
	"context"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/pkg/errors"
	"github.com/userhub/opsctl/internal/controlplane"
)

// Clients bundles the AWS service clients the orchestrator needs.
type Clients struct {
	CFN        *cloudformation.Client
	Lambda     *lambda.Client
	S3         *s3.Client
	CloudFront *cloudfront.Client
	CloudWatch *cloudwatch.Client
}

// Load resolves AWS credentials/region and constructs all service clients.
func Load(ctx context.Context, region string) (*Clients, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "load AWS configuration")
	}
	return &Clients{
		CFN:        cloudformation.NewFromConfig(cfg),
		Lambda:     lambda.NewFromConfig(cfg),
		S3:         s3.NewFromConfig(cfg),
		CloudFront: cloudfront.NewFromConfig(cfg),
		CloudWatch: cloudwatch.NewFromConfig(cfg),
	}, nil
}

// Preflight issues a cheap describe call so authorization failures surface
// before any stack is touched.
func (c *Clients) Preflight(ctx context.Context) error {
	_, err := c.CFN.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{})
	if err != nil {
		return classify("describe stacks preflight", err)
	}
	return nil
}

// classify maps provider auth failures to controlplane.PermissionError and
// wraps everything else with the operation name.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied", "AccessDeniedException", "UnauthorizedOperation", "ExpiredToken", "InvalidClientTokenId":
			return &controlplane.PermissionError{Op: op, Err: err}
		}
	}
	return errors.Wrap(err, op)
}

func strOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
