//go:build gcp

package archive

import (
	"context"
	"net/url"
)

func openGCS(ctx context.Context, u *url.URL) (Store, error) {
	return NewGCSStore(ctx, GCSStoreConfig{
		Bucket: u.Host,
		Prefix: prefixOf(u.Path),
	})
}
