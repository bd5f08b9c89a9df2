// Package archive writes the recording manifest of a completed session to
// object storage, next to wherever downstream jobs pick recordings up.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/rs/zerolog"
	"stream-orchestrator/dto"
)

type objectPutter interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

type MinioArchiver struct {
	client objectPutter
	bucket string
	prefix string
}

func NewMinioArchiver(client *minio.Client, bucket, prefix string) *MinioArchiver {
	return newMinioArchiver(client, bucket, prefix)
}

func newMinioArchiver(client objectPutter, bucket, prefix string) *MinioArchiver {
	if prefix == "" {
		prefix = "sessions"
	}
	return &MinioArchiver{client: client, bucket: bucket, prefix: prefix}
}

// ObjectName is where the manifest of a session is stored.
func (a *MinioArchiver) ObjectName(manifest dto.RecordingManifest) string {
	return path.Join(a.prefix, manifest.SessionID.String(), "recordings.json")
}

func (a *MinioArchiver) ArchiveManifest(ctx context.Context, manifest dto.RecordingManifest) error {
	body, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	object := a.ObjectName(manifest)
	_, err = a.client.PutObject(ctx, a.bucket, object, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", object, err)
	}
	zerolog.Ctx(ctx).Info().
		Str("session_id", manifest.SessionID.String()).
		Str("object", object).
		Int("recordings", len(manifest.Recordings)).
		Msg("recording manifest archived")
	return nil
}
