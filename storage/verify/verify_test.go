package verify

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHeadObjectAPI struct {
	responses []fakeResponse
	calls     int
	lastInput *s3.HeadObjectInput
}

type fakeResponse struct {
	size int64
	err  error
}

func (f *fakeHeadObjectAPI) HeadObject(_ context.Context, params *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.lastInput = params
	response := f.responses[len(f.responses)-1]
	if f.calls < len(f.responses) {
		response = f.responses[f.calls]
	}
	f.calls++
	if response.err != nil {
		return nil, response.err
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(response.size)}, nil
}

func newTestVerifier(client HeadObjectAPI) *Verifier {
	v := NewVerifier(client, log.NewLogger())
	v.wait = 0
	return v
}

func TestVerifier_Verify(t *testing.T) {
	notFound := &types.NotFound{}
	forbidden := &smithy.GenericAPIError{Code: "Forbidden", Message: "access denied"}

	tests := []struct {
		name      string
		responses []fakeResponse
		wantErr   error
		wantCalls int
	}{
		{
			name:      "object matches",
			responses: []fakeResponse{{size: 1024}},
			wantCalls: 1,
		},
		{
			name:      "object appears after a retry",
			responses: []fakeResponse{{err: notFound}, {size: 1024}},
			wantCalls: 2,
		},
		{
			name:      "object never appears",
			responses: []fakeResponse{{err: notFound}},
			wantErr:   ErrObjectNotFound,
			wantCalls: numVerifyRetries + 1,
		},
		{
			name:      "size mismatch is not retried",
			responses: []fakeResponse{{size: 512}},
			wantErr:   ErrSizeMismatch,
			wantCalls: 1,
		},
		{
			name:      "api error is not retried",
			responses: []fakeResponse{{err: forbidden}},
			wantCalls: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeHeadObjectAPI{responses: tt.responses}
			err := newTestVerifier(client).Verify(context.Background(), "videos", "clip.mp4", 1024)

			switch {
			case tt.wantErr != nil:
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "unexpected error: %s", err)
			case len(tt.responses) == 1 && tt.responses[0].err != nil:
				require.Error(t, err)
			default:
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantCalls, client.calls)
			assert.Equal(t, "videos", aws.ToString(client.lastInput.Bucket))
			assert.Equal(t, "clip.mp4", aws.ToString(client.lastInput.Key))
		})
	}
}

func TestVerifier_Verify_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := &fakeHeadObjectAPI{responses: []fakeResponse{{size: 1}}}
	err := newTestVerifier(client).Verify(ctx, "videos", "clip.mp4", 1)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, client.calls)
}

func TestNewS3Verifier_InvalidParams(t *testing.T) {
	_, err := NewS3Verifier(context.Background(), S3Params{Region: "us-east-1"}, log.NewLogger())
	assert.Error(t, err)

	_, err = NewS3Verifier(context.Background(), S3Params{Endpoint: "http://localhost:5000/storage/v1/s3"}, log.NewLogger())
	assert.Error(t, err)
}
