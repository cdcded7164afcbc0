// Package aws fetches a best-effort resource inventory from an AWS account
// using static credentials from client metadata.
package aws

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/cloudscope/pkg/inventory"
	"github.com/platinummonkey/cloudscope/pkg/observability"
)

const (
	connectTimeout = 3 * time.Second
	readTimeout    = 5 * time.Second

	// Per-bucket detail calls are capped so a huge account cannot stall a fetch
	maxBucketDetails = 50

	defaultRegion = "us-east-1"
)

// Fetcher collects EC2, EBS, security group, VPC, S3, RDS, and Lambda
// inventory in parallel. Sub-service failures degrade to empty lists.
type Fetcher struct {
	logger  *observability.Logger
	metrics *observability.Metrics
}

// New creates an AWS fetcher. metrics may be nil.
func New(logger *observability.Logger, metrics *observability.Metrics) *Fetcher {
	return &Fetcher{logger: logger, metrics: metrics}
}

// Provider implements inventory.Fetcher
func (f *Fetcher) Provider() string { return "aws" }

func emptyShape() inventory.Inventory {
	return inventory.Inventory{
		"compute":    {"ec2_instances": {}, "lambda_functions": {}},
		"database":   {"rds_instances": {}},
		"storage":    {"s3_buckets": {}, "ebs_volumes": {}},
		"networking": {"vpcs": {}, "security_groups": {}},
	}
}

// loadConfig builds an SDK config from client credential metadata. The
// second return is a user-facing error message, empty on success.
func (f *Fetcher) loadConfig(ctx context.Context, creds map[string]interface{}) (aws.Config, string) {
	accessKey, _ := creds["clientId"].(string)
	secretKey, _ := creds["clientSecret"].(string)
	region, _ := creds["region"].(string)
	if region == "" {
		region = defaultRegion
	}

	if accessKey == "" || secretKey == "" {
		return aws.Config{}, "Missing AWS credentials"
	}

	httpClient := &http.Client{
		Timeout: readTimeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{Timeout: connectTimeout}).DialContext,
		},
	}
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
		config.WithHTTPClient(httpClient),
		config.WithRetryMaxAttempts(2),
	)
	if err != nil {
		return aws.Config{}, "Failed to configure AWS client: " + err.Error()
	}
	return cfg, ""
}

// Fetch implements inventory.Fetcher
func (f *Fetcher) Fetch(ctx context.Context, clientID int64, creds map[string]interface{}) *inventory.Result {
	cfg, errMsg := f.loadConfig(ctx, creds)
	if errMsg != "" {
		return &inventory.Result{Resources: emptyShape(), Error: errMsg}
	}

	inv := emptyShape()
	var mu sync.Mutex
	set := func(category, resourceType string, items []map[string]interface{}) {
		mu.Lock()
		inv[category][resourceType] = items
		mu.Unlock()
	}

	type subFetch struct {
		service      string
		category     string
		resourceType string
		run          func(context.Context) ([]map[string]interface{}, error)
	}
	subs := []subFetch{
		{"ec2", "compute", "ec2_instances", func(ctx context.Context) ([]map[string]interface{}, error) {
			return f.fetchInstances(ctx, ec2.NewFromConfig(cfg))
		}},
		{"ebs", "storage", "ebs_volumes", func(ctx context.Context) ([]map[string]interface{}, error) {
			return f.fetchVolumes(ctx, ec2.NewFromConfig(cfg))
		}},
		{"security_groups", "networking", "security_groups", func(ctx context.Context) ([]map[string]interface{}, error) {
			return f.fetchSecurityGroups(ctx, ec2.NewFromConfig(cfg))
		}},
		{"vpc", "networking", "vpcs", func(ctx context.Context) ([]map[string]interface{}, error) {
			return f.fetchVPCs(ctx, ec2.NewFromConfig(cfg))
		}},
		{"s3", "storage", "s3_buckets", func(ctx context.Context) ([]map[string]interface{}, error) {
			return f.fetchBuckets(ctx, s3.NewFromConfig(cfg))
		}},
		{"rds", "database", "rds_instances", func(ctx context.Context) ([]map[string]interface{}, error) {
			return f.fetchDatabases(ctx, rds.NewFromConfig(cfg))
		}},
		{"lambda", "compute", "lambda_functions", func(ctx context.Context) ([]map[string]interface{}, error) {
			return f.fetchFunctions(ctx, lambda.NewFromConfig(cfg))
		}},
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, sub := range subs {
		sub := sub
		g.Go(func() error {
			items, err := sub.run(gctx)
			if err != nil {
				f.logger.WithError(err).WithFields(map[string]interface{}{
					"client_id": clientID,
					"service":   sub.service,
				}).Warn("aws sub-service fetch failed")
				if f.metrics != nil {
					f.metrics.ProviderFetchErrors.WithLabelValues("aws", sub.service).Inc()
				}
				return nil
			}
			if items == nil {
				items = []map[string]interface{}{}
			}
			set(sub.category, sub.resourceType, items)
			return nil
		})
	}
	g.Wait()

	return &inventory.Result{Resources: inv}
}

func (f *Fetcher) fetchInstances(ctx context.Context, client *ec2.Client) ([]map[string]interface{}, error) {
	items := []map[string]interface{}{}
	paginator := ec2.NewDescribeInstancesPaginator(client, &ec2.DescribeInstancesInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, reservation := range page.Reservations {
			for _, instance := range reservation.Instances {
				items = append(items, instanceRecord(instance))
			}
		}
	}
	return items, nil
}

// instanceRecord flattens one EC2 instance. State, Placement, and LaunchTime
// are optional in the API response and guarded.
func instanceRecord(instance ec2types.Instance) map[string]interface{} {
	record := map[string]interface{}{
		"id":   aws.ToString(instance.InstanceId),
		"type": string(instance.InstanceType),
		"tags": tagsToMap(instance.Tags),
	}
	if instance.State != nil {
		record["state"] = string(instance.State.Name)
	}
	if instance.Placement != nil {
		record["availability_zone"] = aws.ToString(instance.Placement.AvailabilityZone)
	}
	if instance.LaunchTime != nil {
		record["launch_time"] = instance.LaunchTime.UTC().Format(time.RFC3339)
	}
	return record
}

func (f *Fetcher) fetchVolumes(ctx context.Context, client *ec2.Client) ([]map[string]interface{}, error) {
	items := []map[string]interface{}{}
	paginator := ec2.NewDescribeVolumesPaginator(client, &ec2.DescribeVolumesInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, volume := range page.Volumes {
			items = append(items, map[string]interface{}{
				"id":        aws.ToString(volume.VolumeId),
				"size_gb":   int(aws.ToInt32(volume.Size)),
				"type":      string(volume.VolumeType),
				"state":     string(volume.State),
				"encrypted": aws.ToBool(volume.Encrypted),
				"attached":  len(volume.Attachments) > 0,
				"tags":      tagsToMap(volume.Tags),
			})
		}
	}
	return items, nil
}

func (f *Fetcher) fetchSecurityGroups(ctx context.Context, client *ec2.Client) ([]map[string]interface{}, error) {
	items := []map[string]interface{}{}
	paginator := ec2.NewDescribeSecurityGroupsPaginator(client, &ec2.DescribeSecurityGroupsInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, group := range page.SecurityGroups {
			openPorts := []int{}
			for _, permission := range group.IpPermissions {
				worldOpen := false
				for _, ipRange := range permission.IpRanges {
					if aws.ToString(ipRange.CidrIp) == "0.0.0.0/0" {
						worldOpen = true
						break
					}
				}
				if worldOpen && permission.FromPort != nil {
					openPorts = append(openPorts, int(aws.ToInt32(permission.FromPort)))
				}
			}
			items = append(items, map[string]interface{}{
				"id":         aws.ToString(group.GroupId),
				"name":       aws.ToString(group.GroupName),
				"vpc_id":     aws.ToString(group.VpcId),
				"open_ports": openPorts,
				"rule_count": len(group.IpPermissions),
			})
		}
	}
	return items, nil
}

func (f *Fetcher) fetchVPCs(ctx context.Context, client *ec2.Client) ([]map[string]interface{}, error) {
	items := []map[string]interface{}{}
	paginator := ec2.NewDescribeVpcsPaginator(client, &ec2.DescribeVpcsInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, vpc := range page.Vpcs {
			items = append(items, map[string]interface{}{
				"id":         aws.ToString(vpc.VpcId),
				"cidr":       aws.ToString(vpc.CidrBlock),
				"is_default": aws.ToBool(vpc.IsDefault),
				"state":      string(vpc.State),
			})
		}
	}
	return items, nil
}

func (f *Fetcher) fetchBuckets(ctx context.Context, client *s3.Client) ([]map[string]interface{}, error) {
	out, err := client.ListBuckets(ctx, &s3.ListBucketsInput{})
	if err != nil {
		return nil, err
	}

	items := []map[string]interface{}{}
	for i, bucket := range out.Buckets {
		name := aws.ToString(bucket.Name)
		record := map[string]interface{}{
			"name":       name,
			"encrypted":  false,
			"versioning": false,
		}
		if bucket.CreationDate != nil {
			record["created"] = bucket.CreationDate.UTC().Format(time.RFC3339)
		}

		if i < maxBucketDetails {
			if _, err := client.GetBucketEncryption(ctx, &s3.GetBucketEncryptionInput{Bucket: aws.String(name)}); err == nil {
				record["encrypted"] = true
			}
			if versioning, err := client.GetBucketVersioning(ctx, &s3.GetBucketVersioningInput{Bucket: aws.String(name)}); err == nil {
				record["versioning"] = versioning.Status == "Enabled"
			}
		}
		items = append(items, record)
	}
	return items, nil
}

func (f *Fetcher) fetchDatabases(ctx context.Context, client *rds.Client) ([]map[string]interface{}, error) {
	items := []map[string]interface{}{}
	paginator := rds.NewDescribeDBInstancesPaginator(client, &rds.DescribeDBInstancesInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, db := range page.DBInstances {
			items = append(items, map[string]interface{}{
				"id":         aws.ToString(db.DBInstanceIdentifier),
				"engine":     aws.ToString(db.Engine),
				"class":      aws.ToString(db.DBInstanceClass),
				"status":     aws.ToString(db.DBInstanceStatus),
				"multi_az":   aws.ToBool(db.MultiAZ),
				"storage_gb": int(aws.ToInt32(db.AllocatedStorage)),
				"encrypted":  aws.ToBool(db.StorageEncrypted),
			})
		}
	}
	return items, nil
}

func (f *Fetcher) fetchFunctions(ctx context.Context, client *lambda.Client) ([]map[string]interface{}, error) {
	items := []map[string]interface{}{}
	paginator := lambda.NewListFunctionsPaginator(client, &lambda.ListFunctionsInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, fn := range page.Functions {
			items = append(items, map[string]interface{}{
				"name":      aws.ToString(fn.FunctionName),
				"runtime":   string(fn.Runtime),
				"memory_mb": int(aws.ToInt32(fn.MemorySize)),
				"timeout":   int(aws.ToInt32(fn.Timeout)),
			})
		}
	}
	return items, nil
}

func tagsToMap(tags []ec2types.Tag) map[string]string {
	out := map[string]string{}
	for _, tag := range tags {
		out[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
	}
	return out
}
