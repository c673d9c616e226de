package datasets

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Fetcher writes the complete remote object at rawURL to dest. It must fail
// rather than leave a truncated file behind unnoticed.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, dest string) error
}

// SchemeFetcher dispatches on the URL scheme.
type SchemeFetcher map[string]Fetcher

func DefaultFetcher() SchemeFetcher {
	httpFetcher := HTTPFetcher{Client: http.DefaultClient}
	return SchemeFetcher{
		"http":  httpFetcher,
		"https": httpFetcher,
		"file":  FileFetcher{},
		"s3":    &S3Fetcher{},
	}
}

func (f SchemeFetcher) Fetch(ctx context.Context, rawURL string, dest string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	fetcher, ok := f[strings.ToLower(parsed.Scheme)]
	if !ok {
		return fmt.Errorf("no fetcher for scheme %q", parsed.Scheme)
	}
	return fetcher.Fetch(ctx, rawURL, dest)
}

type HTTPFetcher struct {
	Client *http.Client
}

func (f HTTPFetcher) Fetch(ctx context.Context, rawURL string, dest string) error {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("get %s: unexpected status %s", rawURL, resp.Status)
	}
	return writeBody(dest, resp.Body, resp.ContentLength)
}

// FileFetcher copies from a local path or file:// URL, e.g. a shared mirror.
type FileFetcher struct{}

func (FileFetcher) Fetch(_ context.Context, rawURL string, dest string) error {
	source := rawURL
	if parsed, err := url.Parse(rawURL); err == nil && parsed.Scheme == "file" {
		source = parsed.Path
	}
	in, err := os.Open(source)
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return err
	}
	return writeBody(dest, in, info.Size())
}

type S3GetObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Fetcher reads s3://bucket/key objects. Without a Client it loads the
// default AWS configuration on first use.
type S3Fetcher struct {
	Client S3GetObjectAPI

	once    sync.Once
	initErr error
}

func (f *S3Fetcher) client(ctx context.Context) (S3GetObjectAPI, error) {
	f.once.Do(func() {
		if f.Client != nil {
			return
		}
		cfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			f.initErr = fmt.Errorf("load aws config: %w", err)
			return
		}
		f.Client = s3.NewFromConfig(cfg)
	})
	return f.Client, f.initErr
}

func (f *S3Fetcher) Fetch(ctx context.Context, rawURL string, dest string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	bucket := parsed.Host
	key := strings.TrimPrefix(parsed.Path, "/")
	if bucket == "" || key == "" {
		return fmt.Errorf("s3 url %q must be s3://bucket/key", rawURL)
	}
	client, err := f.client(ctx)
	if err != nil {
		return err
	}
	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("get %s: %w", rawURL, err)
	}
	defer out.Body.Close()
	return writeBody(dest, out.Body, out.ContentLength)
}

// writeBody copies body into dest and checks the byte count when size is
// known (size < 0 means unknown).
func writeBody(dest string, body io.Reader, size int64) error {
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	written, copyErr := io.Copy(out, body)
	closeErr := out.Close()
	if copyErr != nil {
		return fmt.Errorf("write %q: %w", dest, copyErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close %q: %w", dest, closeErr)
	}
	if size >= 0 && written != size {
		return fmt.Errorf("incomplete download: wrote %d of %d bytes", written, size)
	}
	return nil
}
