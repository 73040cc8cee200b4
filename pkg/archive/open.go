package archive

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// Open returns the store a URL names:
//
//	/path/to/dir or file:///path/to/dir
//	s3://bucket/prefix?region=eu-west-1&endpoint=http://localhost:9000
//	gs://bucket/prefix (requires the gcp build tag)
func Open(ctx context.Context, rawURL string) (Store, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("archive: empty store URL")
	}
	if !strings.Contains(rawURL, "://") {
		return NewFileStore(filepath.Clean(rawURL))
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("archive: parse store URL: %w", err)
	}
	switch u.Scheme {
	case "file":
		return NewFileStore(filepath.FromSlash(u.Path))
	case "s3":
		region := u.Query().Get("region")
		if region == "" {
			region = "us-east-1"
		}
		return NewS3Store(ctx, S3StoreConfig{
			Bucket:   u.Host,
			Region:   region,
			Endpoint: u.Query().Get("endpoint"),
			Prefix:   prefixOf(u.Path),
		})
	case "gs":
		return openGCS(ctx, u)
	default:
		return nil, fmt.Errorf("archive: unsupported store scheme %q", u.Scheme)
	}
}

func prefixOf(path string) string {
	p := strings.Trim(path, "/")
	if p == "" {
		return ""
	}
	return p + "/"
}
