package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/require"
)

type fakePutObject struct {
	in   *s3.PutObjectInput
	body []byte
	err  error
}

func (f *fakePutObject) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.in = in
	f.body, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, nil
}

func TestS3UploaderPut(t *testing.T) {
	fake := &fakePutObject{}
	u := &S3Uploader{client: fake, bucket: "bucket"}

	err := u.Put(context.Background(), "raw-data/market_sentiment_20261017_120000.csv", []byte("a,b\n"))
	require.NoError(t, err)
	require.Equal(t, "bucket", aws.ToString(fake.in.Bucket))
	require.Equal(t, "raw-data/market_sentiment_20261017_120000.csv", aws.ToString(fake.in.Key))
	require.Equal(t, ContentTypeCSV, aws.ToString(fake.in.ContentType))
	require.Equal(t, "a,b\n", string(fake.body))
}

func TestS3UploaderPutError(t *testing.T) {
	cause := errors.New("access denied")
	u := &S3Uploader{client: &fakePutObject{err: cause}, bucket: "bucket"}

	err := u.Put(context.Background(), "raw-data/x.csv", []byte("x"))
	require.ErrorIs(t, err, cause)

	var se *StorageError
	require.ErrorAs(t, err, &se)
	require.Equal(t, "s3://bucket/raw-data/x.csv", se.Path)
}

func TestLocalUploaderPut(t *testing.T) {
	root := t.TempDir()
	u := NewLocalUploader(root)

	require.NoError(t, u.Put(context.Background(), "raw-data/out.csv", []byte("id\n")))

	got, err := os.ReadFile(filepath.Join(root, "raw-data", "out.csv"))
	require.NoError(t, err)
	require.Equal(t, "id\n", string(got))

	_, err = os.Stat(filepath.Join(root, "raw-data", "out.csv.tmp"))
	require.True(t, os.IsNotExist(err))
}

func TestLocalUploaderRejectsEscapingPath(t *testing.T) {
	u := NewLocalUploader(t.TempDir())

	var se *StorageError
	require.ErrorAs(t, u.Put(context.Background(), "../evil.csv", []byte("x")), &se)
}

func TestLocalUploaderCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewLocalUploader(t.TempDir()).Put(ctx, "a.csv", nil)
	require.ErrorIs(t, err, context.Canceled)
}
