package aws

import (
	"context"
	"os"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/cloudscope/pkg/observability"
)

func TestInstanceRecordNilState(t *testing.T) {
	record := instanceRecord(ec2types.Instance{
		InstanceId:   aws.String("i-1"),
		InstanceType: ec2types.InstanceTypeT3Micro,
	})

	assert.Equal(t, "i-1", record["id"])
	assert.NotContains(t, record, "state")
	assert.NotContains(t, record, "availability_zone")
}

func TestInstanceRecordFullState(t *testing.T) {
	record := instanceRecord(ec2types.Instance{
		InstanceId: aws.String("i-2"),
		State:      &ec2types.InstanceState{Name: ec2types.InstanceStateNameStopped},
		Placement:  &ec2types.Placement{AvailabilityZone: aws.String("us-east-1a")},
		Tags: []ec2types.Tag{
			{Key: aws.String("env"), Value: aws.String("dev")},
		},
	})

	assert.Equal(t, "stopped", record["state"])
	assert.Equal(t, "us-east-1a", record["availability_zone"])
	assert.Equal(t, map[string]string{"env": "dev"}, record["tags"])
}

func TestFetchMissingCredentials(t *testing.T) {
	logger := observability.NewLogger(observability.ErrorLevel, os.Stderr)
	fetcher := New(logger, nil)

	result := fetcher.Fetch(context.Background(), 1, map[string]interface{}{})

	require.NotNil(t, result)
	assert.Equal(t, "Missing AWS credentials", result.Error)
	assert.Empty(t, result.Resources["compute"]["ec2_instances"])
	assert.Empty(t, result.Resources["storage"]["s3_buckets"])
}
