//go:build !gcp

package archive

import (
	"context"
	"fmt"
	"net/url"
)

func openGCS(context.Context, *url.URL) (Store, error) {
	return nil, fmt.Errorf("archive: GCS storage is not enabled in this build (use -tags gcp)")
}
