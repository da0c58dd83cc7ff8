package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockS3 struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (m *mockS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	m.input = params
	if params.Body != nil {
		m.body, _ = io.ReadAll(params.Body)
	}
	if m.err != nil {
		return nil, m.err
	}
	return &s3.PutObjectOutput{}, nil
}

func TestS3Storage_Upload(t *testing.T) {
	client := &mockS3{}
	s := NewS3Storage(client, S3Config{Bucket: "denials", Region: "us-east-1", Prefix: "/intake/"}, "", zap.NewNop())

	url, err := s.Upload(context.Background(), "scan.pdf", "application/pdf", []byte("pdf"))
	require.NoError(t, err)

	require.NotNil(t, client.input)
	key := aws.ToString(client.input.Key)
	assert.Equal(t, "denials", aws.ToString(client.input.Bucket))
	assert.True(t, strings.HasPrefix(key, "intake/"), key)
	assert.True(t, strings.HasSuffix(key, "-scan.pdf"), key)
	assert.Equal(t, "application/pdf", aws.ToString(client.input.ContentType))
	assert.Equal(t, int64(3), aws.ToInt64(client.input.ContentLength))
	assert.Equal(t, []byte("pdf"), client.body)
	assert.Equal(t, "https://denials.s3.us-east-1.amazonaws.com/"+key, url)
}

func TestS3Storage_PublicURL(t *testing.T) {
	tests := []struct {
		name     string
		cfg      S3Config
		endpoint string
		prefix   string
	}{
		{"custom endpoint uses path style", S3Config{Bucket: "b", Region: "us-east-1"}, "http://localstack:4566/", "http://localstack:4566/b/"},
		{"explicit public url wins", S3Config{Bucket: "b", PublicURL: "https://cdn.example.com/"}, "http://localstack:4566", "https://cdn.example.com/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewS3Storage(&mockS3{}, tt.cfg, tt.endpoint, zap.NewNop())
			url, err := s.Upload(context.Background(), "x.pdf", "", []byte("x"))
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(url, tt.prefix), url)
		})
	}
}

func TestS3Storage_UploadError(t *testing.T) {
	client := &mockS3{err: errors.New("access denied")}
	s := NewS3Storage(client, S3Config{Bucket: "b", Region: "us-east-1"}, "", zap.NewNop())

	_, err := s.Upload(context.Background(), "x.pdf", "", []byte("x"))
	assert.ErrorContains(t, err, "access denied")
	assert.Equal(t, "application/octet-stream", aws.ToString(client.input.ContentType))
}
