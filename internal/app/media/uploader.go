package media

import "context"

// Uploader pushes a local file to object storage and returns its public URL.
type Uploader interface {
	Upload(ctx context.Context, localPath string) (string, error)
}
