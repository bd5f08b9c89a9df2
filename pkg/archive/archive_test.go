package archive

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"stream-orchestrator/constant"
	"stream-orchestrator/dto"
	"stream-orchestrator/entities"
)

type fakePutter struct {
	bucket, object string
	body           []byte
	opts           minio.PutObjectOptions
	err            error
}

func (f *fakePutter) PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if f.err != nil {
		return minio.UploadInfo{}, f.err
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	f.bucket, f.object, f.body, f.opts = bucketName, objectName, body, opts
	return minio.UploadInfo{Bucket: bucketName, Key: objectName, Size: objectSize}, nil
}

func TestArchiveManifest(t *testing.T) {
	putter := &fakePutter{}
	a := newMinioArchiver(putter, "recordings", "")
	id := uuid.MustParse("7d444840-9dc0-11d1-b245-5ffdce74fad2")
	manifest := dto.RecordingManifest{
		SessionID: id,
		Title:     "Weekly sync",
		Recordings: []entities.RecordingSession{{
			ProviderAssetID: "a1",
			Status:          constant.RecordingStatusReady,
		}},
		GeneratedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}

	require.NoError(t, a.ArchiveManifest(context.Background(), manifest))
	assert.Equal(t, "recordings", putter.bucket)
	assert.Equal(t, "sessions/7d444840-9dc0-11d1-b245-5ffdce74fad2/recordings.json", putter.object)
	assert.Equal(t, "application/json", putter.opts.ContentType)

	var decoded dto.RecordingManifest
	require.NoError(t, json.Unmarshal(putter.body, &decoded))
	assert.Equal(t, "Weekly sync", decoded.Title)
	require.Len(t, decoded.Recordings, 1)
	assert.Equal(t, "a1", decoded.Recordings[0].ProviderAssetID)
}

func TestArchiveManifestPropagatesErrors(t *testing.T) {
	a := newMinioArchiver(&fakePutter{err: errors.New("access denied")}, "recordings", "archive")
	err := a.ArchiveManifest(context.Background(), dto.RecordingManifest{SessionID: uuid.New()})
	assert.ErrorContains(t, err, "access denied")
	assert.ErrorContains(t, err, "archive/")
}
