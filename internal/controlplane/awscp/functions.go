// File: internal/controlplane/awscp/functions.go
// Brief: Lambda-backed FunctionService.

package awscp

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/userhub/opsctl/internal/controlplane"
)

// lambdaTimeLayout matches Lambda's LastModified strings.
const lambdaTimeLayout = "2006-01-02T15:04:05.000-0700"

// Functions implements controlplane.FunctionService on Lambda aliases.
type Functions struct {
	client *lambda.Client
}

// NewFunctions wraps a Lambda client.
func NewFunctions(client *lambda.Client) *Functions {
	return &Functions{client: client}
}

func (f *Functions) Versions(ctx context.Context, function string) ([]controlplane.FunctionVersion, error) {
	var out []controlplane.FunctionVersion
	paginator := lambda.NewListVersionsByFunctionPaginator(f.client, &lambda.ListVersionsByFunctionInput{
		FunctionName: aws.String(function),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classify(fmt.Sprintf("list versions of %s", function), err)
		}
		for _, v := range page.Versions {
			id := strOrEmpty(v.Version)
			if id == "" || id == "$LATEST" {
				continue
			}
			fv := controlplane.FunctionVersion{ID: id, Description: strOrEmpty(v.Description)}
			if ts, err := time.Parse(lambdaTimeLayout, strOrEmpty(v.LastModified)); err == nil {
				fv.Modified = ts
			}
			out = append(out, fv)
		}
	}
	// Published versions are numeric strings; order them oldest first.
	sort.Slice(out, func(i, j int) bool {
		a, aErr := strconv.Atoi(out[i].ID)
		b, bErr := strconv.Atoi(out[j].ID)
		if aErr != nil || bErr != nil {
			return out[i].ID < out[j].ID
		}
		return a < b
	})
	return out, nil
}

func (f *Functions) AliasTarget(ctx context.Context, function, alias string) (string, error) {
	out, err := f.client.GetAlias(ctx, &lambda.GetAliasInput{
		FunctionName: aws.String(function),
		Name:         aws.String(alias),
	})
	if err != nil {
		return "", classify(fmt.Sprintf("get alias %s of %s", alias, function), err)
	}
	return strOrEmpty(out.FunctionVersion), nil
}

func (f *Functions) RetargetAlias(ctx context.Context, function, alias, version string) error {
	_, err := f.client.UpdateAlias(ctx, &lambda.UpdateAliasInput{
		FunctionName:    aws.String(function),
		Name:            aws.String(alias),
		FunctionVersion: aws.String(version),
	})
	if err != nil {
		return classify(fmt.Sprintf("retarget alias %s of %s", alias, function), err)
	}
	return nil
}
