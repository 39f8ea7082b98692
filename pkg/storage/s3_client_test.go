package storage

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	puts map[string][]byte
	cts  map[string]string
	err  error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{puts: make(map[string][]byte), cts: make(map[string]string)}
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	key := aws.ToString(in.Bucket) + "/" + aws.ToString(in.Key)
	f.puts[key] = body
	f.cts[key] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) UploadPart(context.Context, *s3.UploadPartInput, ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	return nil, errors.New("multipart not expected")
}

func (f *fakeS3) CreateMultipartUpload(context.Context, *s3.CreateMultipartUploadInput, ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	return nil, errors.New("multipart not expected")
}

func (f *fakeS3) CompleteMultipartUpload(context.Context, *s3.CompleteMultipartUploadInput, ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	return nil, errors.New("multipart not expected")
}

func (f *fakeS3) AbortMultipartUpload(context.Context, *s3.AbortMultipartUploadInput, ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	return &s3.AbortMultipartUploadOutput{}, nil
}

func TestS3ArchivePut(t *testing.T) {
	client := newFakeS3()
	archive := NewS3Archive(client, "signatures", "prod")

	err := archive.Put(context.Background(), "shipments/abc/producer-signature.png", "image/png", []byte("png-bytes"))
	require.NoError(t, err)

	key := "signatures/prod/shipments/abc/producer-signature.png"
	assert.Equal(t, []byte("png-bytes"), client.puts[key])
	assert.Equal(t, "image/png", client.cts[key])
}

func TestS3ArchiveObjectKey(t *testing.T) {
	assert.Equal(t, "a/b.png", NewS3Archive(newFakeS3(), "bucket", "").ObjectKey("a/b.png"))
	assert.Equal(t, "archive/a/b.png", NewS3Archive(newFakeS3(), "bucket", "archive/").ObjectKey("a/b.png"))
}

func TestS3ArchivePutError(t *testing.T) {
	client := newFakeS3()
	client.err = errors.New("access denied")
	archive := NewS3Archive(client, "signatures", "")

	err := archive.Put(context.Background(), "k", "image/png", []byte("x"))
	assert.ErrorContains(t, err, "s3://signatures/k")
}
