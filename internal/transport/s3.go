package transport

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"sbak/internal/config"
	"sbak/internal/engine"
)

// s3Session treats a bucket (optionally below a key prefix) as a
// remote file tree. Roots are key prefixes, file paths are keys with
// the prefix stripped. The S3 client is stateless, so concurrent
// Fetch calls are safe.
type s3Session struct {
	client     *s3.Client
	downloader *manager.Downloader
	bucket     string
	prefix     string
}

var _ engine.Session = (*s3Session)(nil)

// dialS3 builds the S3 client for a host profile and probes the
// bucket, so unreachable or misconfigured buckets fail the pass at
// the connect stage rather than per root.
func dialS3(ctx context.Context, hc config.HostConfig) (*s3Session, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if hc.S3Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(hc.S3Region))
	}
	if hc.S3AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(hc.S3AccessKey, hc.S3SecretKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if hc.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(hc.S3Endpoint)
			o.UsePathStyle = true
		}
	})

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(hc.S3Bucket)}); err != nil {
		return nil, fmt.Errorf("bucket %s not reachable: %w", hc.S3Bucket, err)
	}

	return &s3Session{
		client:     client,
		downloader: manager.NewDownloader(client),
		bucket:     hc.S3Bucket,
		prefix:     strings.Trim(hc.S3Prefix, "/"),
	}, nil
}

// keyFor maps a remote path onto its object key below the configured
// prefix.
func (s *s3Session) keyFor(remotePath string) string {
	key := path.Join(s.prefix, remotePath)
	return strings.TrimPrefix(key, "/")
}

// List pages through every object below the root prefix.
func (s *s3Session) List(ctx context.Context, root string) ([]engine.RemoteFile, error) {
	keyPrefix := s.keyFor(root)
	if keyPrefix != "" && !strings.HasSuffix(keyPrefix, "/") {
		keyPrefix += "/"
	}

	in := &s3.ListObjectsV2Input{Bucket: aws.String(s.bucket)}
	if keyPrefix != "" {
		in.Prefix = aws.String(keyPrefix)
	}

	var files []engine.RemoteFile
	p := s3.NewListObjectsV2Paginator(s.client, in)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing objects under %s: %w", keyPrefix, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			// Consoles create zero-byte keys with a trailing slash as
			// directory markers.
			if strings.HasSuffix(key, "/") {
				continue
			}
			files = append(files, engine.RemoteFile{
				Path:    strings.TrimPrefix(key, keyPrefix),
				Size:    aws.ToInt64(obj.Size),
				ModTime: aws.ToTime(obj.LastModified),
			})
		}
	}

	return files, nil
}

// Fetch downloads one object into localPath. The local file handle
// satisfies io.WriterAt, which lets the download manager fetch parts
// concurrently.
func (s *s3Session) Fetch(ctx context.Context, remotePath, localPath string) (int64, error) {
	f, err := os.Create(localPath)
	if err != nil {
		return 0, fmt.Errorf("creating local file: %w", err)
	}

	written, err := s.downloader.Download(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.keyFor(remotePath)),
	})
	if err != nil {
		f.Close()
		return 0, fmt.Errorf("downloading %s: %w", remotePath, err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("closing local file: %w", err)
	}

	return written, nil
}

// Close is a no-op; the S3 client holds no persistent connection.
func (s *s3Session) Close() error { return nil }
