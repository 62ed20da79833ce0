// File: internal/controlplane/awscp/assets.go
// Brief: S3/CloudFront-backed AssetService.

package awscp

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	cftypes "github.com/aws/aws-sdk-go-v2/service/cloudfront/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/userhub/opsctl/internal/controlplane"
)

// Bucket layout: immutable releases under releases/<id>/, the live set under
// current/, pre-rollback copies under snapshots/<tag>/, and a pointer object
// current.version naming the live release.
const (
	releasesPrefix  = "releases/"
	currentPrefix   = "current/"
	snapshotsPrefix = "snapshots/"
	versionPointer  = "current.version"
)

// Assets implements controlplane.AssetService on an S3 bucket fronted by a
// CloudFront distribution.
type Assets struct {
	s3client     *s3.Client
	cfclient     *cloudfront.Client
	bucket       string
	distribution string
}

// NewAssets wraps the S3 and CloudFront clients for one environment.
func NewAssets(s3client *s3.Client, cfclient *cloudfront.Client, bucket, distribution string) *Assets {
	return &Assets{s3client: s3client, cfclient: cfclient, bucket: bucket, distribution: distribution}
}

func (a *Assets) Versions(ctx context.Context) ([]controlplane.AssetVersion, error) {
	out, err := a.s3client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:    aws.String(a.bucket),
		Prefix:    aws.String(releasesPrefix),
		Delimiter: aws.String("/"),
	})
	if err != nil {
		return nil, classify(fmt.Sprintf("list releases in %s", a.bucket), err)
	}
	var versions []controlplane.AssetVersion
	for _, cp := range out.CommonPrefixes {
		prefix := strOrEmpty(cp.Prefix)
		id := strings.TrimSuffix(strings.TrimPrefix(prefix, releasesPrefix), "/")
		if id == "" {
			continue
		}
		versions = append(versions, controlplane.AssetVersion{ID: id})
	}
	// Release ids are timestamp-prefixed; lexical order is oldest first.
	sort.Slice(versions, func(i, j int) bool { return versions[i].ID < versions[j].ID })
	return versions, nil
}

func (a *Assets) Current(ctx context.Context) (string, error) {
	out, err := a.s3client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(versionPointer),
	})
	if err != nil {
		return "", classify(fmt.Sprintf("read %s in %s", versionPointer, a.bucket), err)
	}
	defer out.Body.Close()
	raw, err := io.ReadAll(out.Body)
	if err != nil {
		return "", errors.Wrap(err, "read version pointer")
	}
	return strings.TrimSpace(string(raw)), nil
}

// Promote copies the release's objects over current/ and rewrites the
// version pointer.
func (a *Assets) Promote(ctx context.Context, version string) error {
	src := releasesPrefix + version + "/"
	if err := a.copyPrefix(ctx, src, currentPrefix); err != nil {
		return errors.Wrapf(err, "promote release %s", version)
	}
	_, err := a.s3client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(versionPointer),
		Body:   strings.NewReader(version + "\n"),
	})
	if err != nil {
		return classify(fmt.Sprintf("write %s in %s", versionPointer, a.bucket), err)
	}
	return nil
}

// Snapshot copies the live set aside under snapshots/<tag>/ and returns the
// bucket location.
func (a *Assets) Snapshot(ctx context.Context, tag string) (string, error) {
	dst := snapshotsPrefix + tag + "/"
	if err := a.copyPrefix(ctx, currentPrefix, dst); err != nil {
		return "", errors.Wrapf(err, "snapshot live assets to %s", dst)
	}
	return fmt.Sprintf("s3://%s/%s", a.bucket, dst), nil
}

func (a *Assets) InvalidateCache(ctx context.Context, paths []string) (string, error) {
	if len(paths) == 0 {
		paths = []string{"/*"}
	}
	out, err := a.cfclient.CreateInvalidation(ctx, &cloudfront.CreateInvalidationInput{
		DistributionId: aws.String(a.distribution),
		InvalidationBatch: &cftypes.InvalidationBatch{
			CallerReference: aws.String(fmt.Sprintf("opsctl-%d-%s", time.Now().Unix(), uuid.NewString()[:8])),
			Paths: &cftypes.Paths{
				Items:    paths,
				Quantity: aws.Int32(int32(len(paths))),
			},
		},
	})
	if err != nil {
		return "", classify(fmt.Sprintf("invalidate distribution %s", a.distribution), err)
	}
	if out.Invalidation == nil {
		return "", nil
	}
	return strOrEmpty(out.Invalidation.Id), nil
}

func (a *Assets) copyPrefix(ctx context.Context, src, dst string) error {
	paginator := s3.NewListObjectsV2Paginator(a.s3client, &s3.ListObjectsV2Input{
		Bucket: aws.String(a.bucket),
		Prefix: aws.String(src),
	})
	copied := 0
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return classify(fmt.Sprintf("list %s in %s", src, a.bucket), err)
		}
		for _, obj := range page.Contents {
			key := strOrEmpty(obj.Key)
			rel := strings.TrimPrefix(key, src)
			if rel == "" {
				continue
			}
			_, err := a.s3client.CopyObject(ctx, &s3.CopyObjectInput{
				Bucket:     aws.String(a.bucket),
				Key:        aws.String(dst + rel),
				CopySource: aws.String(url.PathEscape(a.bucket + "/" + key)),
			})
			if err != nil {
				return classify(fmt.Sprintf("copy %s", key), err)
			}
			copied++
		}
	}
	if copied == 0 {
		return errors.Errorf("no objects under %s in %s", src, a.bucket)
	}
	return nil
}
