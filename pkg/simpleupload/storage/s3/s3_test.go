package s3

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-upload/pkg/simpleupload"
)

type mockClient struct {
	mock.Mock
}

func (m *mockClient) HeadBucket(ctx context.Context, params *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	args := m.Called(ctx, params)
	out, _ := args.Get(0).(*s3.HeadBucketOutput)
	return out, args.Error(1)
}

func (m *mockClient) CreateBucket(ctx context.Context, params *s3.CreateBucketInput, _ ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	args := m.Called(ctx, params)
	out, _ := args.Get(0).(*s3.CreateBucketOutput)
	return out, args.Error(1)
}

func (m *mockClient) HeadObject(ctx context.Context, params *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	args := m.Called(ctx, params)
	out, _ := args.Get(0).(*s3.HeadObjectOutput)
	return out, args.Error(1)
}

func (m *mockClient) DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	args := m.Called(ctx, params)
	out, _ := args.Get(0).(*s3.DeleteObjectOutput)
	return out, args.Error(1)
}

func (m *mockClient) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	args := m.Called(ctx, params)
	out, _ := args.Get(0).(*s3.ListObjectsV2Output)
	return out, args.Error(1)
}

func TestS3Backend_BasicConfiguration(t *testing.T) {
	t.Run("EmptyBucket", func(t *testing.T) {
		_, err := New(Config{Region: "us-east-1"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bucket name is required")
	})

	t.Run("DefaultRegion", func(t *testing.T) {
		backend, err := New(Config{
			Bucket:          "test-bucket",
			AccessKeyID:     "test-key",
			SecretAccessKey: "test-secret",
		})
		require.NoError(t, err)
		assert.Equal(t, "us-east-1", backend.region)
	})
}

func headKey(key string) interface{} {
	return mock.MatchedBy(func(in *s3.HeadObjectInput) bool {
		return aws.ToString(in.Bucket) == "bucket" && aws.ToString(in.Key) == key
	})
}

func deleteKey(key string) interface{} {
	return mock.MatchedBy(func(in *s3.DeleteObjectInput) bool {
		return aws.ToString(in.Bucket) == "bucket" && aws.ToString(in.Key) == key
	})
}

func TestS3Backend_Delete(t *testing.T) {
	ctx := context.Background()
	key := "uploads/3f1c2b9e-0000-4000-8000-000000000001"

	t.Run("completed upload with info sidecar", func(t *testing.T) {
		client := new(mockClient)
		client.On("HeadObject", ctx, headKey(key)).Return(&s3.HeadObjectOutput{}, nil)
		client.On("HeadObject", ctx, headKey(key+".info")).Return(&s3.HeadObjectOutput{}, nil)
		client.On("HeadObject", ctx, headKey(key+".part")).Return(nil, &types.NotFound{})
		client.On("DeleteObject", ctx, deleteKey(key)).Return(&s3.DeleteObjectOutput{}, nil)
		client.On("DeleteObject", ctx, deleteKey(key+".info")).Return(&s3.DeleteObjectOutput{}, nil)

		backend := NewWithClient(client, "bucket", "us-east-1")
		require.NoError(t, backend.Delete(ctx, key))
		client.AssertExpectations(t)
		client.AssertNumberOfCalls(t, "DeleteObject", 2)
	})

	t.Run("upload in progress has only sidecars", func(t *testing.T) {
		client := new(mockClient)
		client.On("HeadObject", ctx, headKey(key)).Return(nil, &types.NotFound{})
		client.On("HeadObject", ctx, headKey(key+".info")).Return(&s3.HeadObjectOutput{}, nil)
		client.On("HeadObject", ctx, headKey(key+".part")).Return(&s3.HeadObjectOutput{}, nil)
		client.On("DeleteObject", ctx, deleteKey(key+".info")).Return(&s3.DeleteObjectOutput{}, nil)
		client.On("DeleteObject", ctx, deleteKey(key+".part")).Return(&s3.DeleteObjectOutput{}, nil)

		backend := NewWithClient(client, "bucket", "us-east-1")
		require.NoError(t, backend.Delete(ctx, key))
		client.AssertExpectations(t)
		client.AssertNotCalled(t, "DeleteObject", ctx, deleteKey(key))
	})

	t.Run("nothing stored", func(t *testing.T) {
		client := new(mockClient)
		client.On("HeadObject", ctx, mock.Anything).Return(nil, &types.NotFound{})

		backend := NewWithClient(client, "bucket", "us-east-1")
		assert.ErrorIs(t, backend.Delete(ctx, key), simpleupload.ErrBlobNotFound)
		client.AssertNumberOfCalls(t, "HeadObject", 3)
		client.AssertNotCalled(t, "DeleteObject", mock.Anything, mock.Anything)
	})

	t.Run("transport failure", func(t *testing.T) {
		client := new(mockClient)
		client.On("HeadObject", ctx, mock.Anything).Return(nil, errors.New("connection reset"))

		backend := NewWithClient(client, "bucket", "us-east-1")
		err := backend.Delete(ctx, key)
		require.Error(t, err)
		assert.NotErrorIs(t, err, simpleupload.ErrBlobNotFound)
	})
}

func TestS3Backend_List(t *testing.T) {
	ctx := context.Background()
	modified := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	client := new(mockClient)
	client.On("ListObjectsV2", ctx, mock.MatchedBy(func(in *s3.ListObjectsV2Input) bool {
		return in.ContinuationToken == nil
	})).Return(&s3.ListObjectsV2Output{
		Contents: []types.Object{
			{Key: aws.String("uploads/outputs/s1/a.txt"), Size: aws.Int64(3), LastModified: &modified},
		},
		IsTruncated:           aws.Bool(true),
		NextContinuationToken: aws.String("next"),
	}, nil)
	client.On("ListObjectsV2", ctx, mock.MatchedBy(func(in *s3.ListObjectsV2Input) bool {
		return aws.ToString(in.ContinuationToken) == "next"
	})).Return(&s3.ListObjectsV2Output{
		Contents: []types.Object{
			{Key: aws.String("uploads/outputs/s1/b.txt"), Size: aws.Int64(5)},
		},
		IsTruncated: aws.Bool(false),
	}, nil)

	backend := NewWithClient(client, "bucket", "us-east-1")
	metas, err := backend.List(ctx, "uploads/outputs/s1/")
	require.NoError(t, err)
	require.Len(t, metas, 2)
	assert.Equal(t, "uploads/outputs/s1/a.txt", metas[0].Key)
	assert.Equal(t, modified, metas[0].UpdatedAt)
	assert.Equal(t, int64(5), metas[1].Size)
}

func TestS3Backend_CreateBucketIfNotExists(t *testing.T) {
	ctx := context.Background()

	client := new(mockClient)
	client.On("HeadBucket", ctx, mock.Anything).Return(nil, &smithy.GenericAPIError{Code: "NoSuchBucket"})
	client.On("CreateBucket", ctx, mock.MatchedBy(func(in *s3.CreateBucketInput) bool {
		return in.CreateBucketConfiguration != nil &&
			in.CreateBucketConfiguration.LocationConstraint == types.BucketLocationConstraint("eu-west-1")
	})).Return(&s3.CreateBucketOutput{}, nil)

	backend := NewWithClient(client, "bucket", "eu-west-1")
	require.NoError(t, backend.createBucketIfNotExists(ctx))
	client.AssertExpectations(t)
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(&smithy.GenericAPIError{Code: "NoSuchKey"}))
	assert.True(t, isNotFound(&types.NoSuchKey{}))
	assert.False(t, isNotFound(&smithy.GenericAPIError{Code: "AccessDenied"}))
	assert.False(t, isNotFound(errors.New("plain")))
}
