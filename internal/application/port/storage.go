package port

import "context"

// UploadService stores binary documents and returns their public URL
type UploadService interface {
	Upload(ctx context.Context, name, contentType string, data []byte) (string, error)
}
