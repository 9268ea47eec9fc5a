package s3

import (
	"bytes"
	"context"
	"io"
	"os"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
	"github.com/marmos91/stockd/pkg/store"
	storetesting "github.com/marmos91/stockd/pkg/store/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 is an in-process object map standing in for a bucket.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeS3() *fakeS3 { return &fakeS3{objects: map[string][]byte{}} }

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("missing")}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(append([]byte(nil), data...)))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func TestS3StoreWithFakeClient(t *testing.T) {
	clients := map[store.Store]*fakeS3{}

	suite := &storetesting.StoreTestSuite{
		NewStore: func(t *testing.T) store.Store {
			client := newFakeS3()
			s := NewWithClient(client, "bucket", "stockd/")
			clients[s] = client
			return s
		},
		Reopen: func(t *testing.T, s store.Store) store.Store {
			require.NoError(t, s.Close())
			return NewWithClient(clients[s], "bucket", "stockd/")
		},
	}

	suite.Run(t)
}

func TestObjectLayout(t *testing.T) {
	client := newFakeS3()
	s := NewWithClient(client, "bucket", "prefix/")

	require.NoError(t, s.Append(context.Background(), store.DomainUsers, store.Row{"alice", "pw1"}))

	assert.Equal(t, "alice,pw1\n", string(client.objects["prefix/users.csv"]))
}

func TestNewClientRequiresBucketAndRegion(t *testing.T) {
	_, err := NewClient(context.Background(), Config{Region: "us-east-1"})
	assert.Error(t, err)

	_, err = NewClient(context.Background(), Config{Bucket: "b"})
	assert.Error(t, err)
}

// TestS3StoreIntegration runs against a real endpoint such as MinIO.
func TestS3StoreIntegration(t *testing.T) {
	endpoint := os.Getenv("STOCKD_TEST_S3_ENDPOINT")
	if endpoint == "" {
		t.Skip("STOCKD_TEST_S3_ENDPOINT not set")
	}

	suite := &storetesting.StoreTestSuite{
		NewStore: func(t *testing.T) store.Store {
			s, err := New(context.Background(), Config{
				Region:          "us-east-1",
				Bucket:          os.Getenv("STOCKD_TEST_S3_BUCKET"),
				Endpoint:        endpoint,
				KeyPrefix:       uuid.NewString() + "/",
				AccessKeyID:     os.Getenv("STOCKD_TEST_S3_ACCESS_KEY"),
				SecretAccessKey: os.Getenv("STOCKD_TEST_S3_SECRET_KEY"),
			})
			require.NoError(t, err)
			return s
		},
	}

	suite.Run(t)
}
