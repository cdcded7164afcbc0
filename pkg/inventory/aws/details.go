package aws

import (
	"context"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// FetchDetails implements inventory.DetailFetcher for EC2 instances, RDS
// instances, and S3 buckets. Lookup failures surface under an "error" key.
func (f *Fetcher) FetchDetails(ctx context.Context, creds map[string]interface{}, resourceType, resourceID string) map[string]interface{} {
	cfg, errMsg := f.loadConfig(ctx, creds)
	if errMsg != "" {
		return map[string]interface{}{"error": errMsg}
	}

	details := map[string]interface{}{}
	kind := strings.ToLower(resourceType)
	switch {
	case strings.Contains(kind, "ec2") || strings.Contains(kind, "instance"):
		f.instanceDetails(ctx, ec2.NewFromConfig(cfg), resourceID, details)
	case strings.Contains(kind, "rds"):
		f.databaseDetails(ctx, rds.NewFromConfig(cfg), resourceID, details)
	case strings.Contains(kind, "s3") || strings.Contains(kind, "bucket"):
		f.bucketDetails(ctx, s3.NewFromConfig(cfg), resourceID, details)
	}
	return details
}

func (f *Fetcher) instanceDetails(ctx context.Context, client *ec2.Client, instanceID string, details map[string]interface{}) {
	out, err := client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		details["error"] = err.Error()
		return
	}
	if len(out.Reservations) == 0 || len(out.Reservations[0].Instances) == 0 {
		return
	}
	instance := out.Reservations[0].Instances[0]
	details["instance"] = instanceRecord(instance)
	if instance.Monitoring != nil {
		details["monitoring"] = string(instance.Monitoring.State)
	}

	groupIDs := []string{}
	for _, group := range instance.SecurityGroups {
		groupIDs = append(groupIDs, aws.ToString(group.GroupId))
	}
	if len(groupIDs) > 0 {
		if groups, err := client.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{GroupIds: groupIDs}); err == nil {
			records := []map[string]interface{}{}
			for _, group := range groups.SecurityGroups {
				records = append(records, map[string]interface{}{
					"id":         aws.ToString(group.GroupId),
					"name":       aws.ToString(group.GroupName),
					"rule_count": len(group.IpPermissions),
				})
			}
			details["security_groups"] = records
		}
	}

	volumeIDs := []string{}
	for _, mapping := range instance.BlockDeviceMappings {
		if mapping.Ebs != nil {
			volumeIDs = append(volumeIDs, aws.ToString(mapping.Ebs.VolumeId))
		}
	}
	if len(volumeIDs) > 0 {
		if volumes, err := client.DescribeVolumes(ctx, &ec2.DescribeVolumesInput{VolumeIds: volumeIDs}); err == nil {
			records := []map[string]interface{}{}
			for _, volume := range volumes.Volumes {
				records = append(records, map[string]interface{}{
					"id":        aws.ToString(volume.VolumeId),
					"size_gb":   int(aws.ToInt32(volume.Size)),
					"type":      string(volume.VolumeType),
					"encrypted": aws.ToBool(volume.Encrypted),
				})
			}
			details["volumes"] = records
		}
	}

	interfaces := []map[string]interface{}{}
	for _, nic := range instance.NetworkInterfaces {
		interfaces = append(interfaces, map[string]interface{}{
			"id":         aws.ToString(nic.NetworkInterfaceId),
			"private_ip": aws.ToString(nic.PrivateIpAddress),
		})
	}
	details["network_interfaces"] = interfaces
}

func (f *Fetcher) databaseDetails(ctx context.Context, client *rds.Client, instanceID string, details map[string]interface{}) {
	out, err := client.DescribeDBInstances(ctx, &rds.DescribeDBInstancesInput{
		DBInstanceIdentifier: aws.String(instanceID),
	})
	if err != nil {
		details["error"] = err.Error()
		return
	}
	if len(out.DBInstances) == 0 {
		return
	}
	db := out.DBInstances[0]
	details["database"] = map[string]interface{}{
		"id":         aws.ToString(db.DBInstanceIdentifier),
		"engine":     aws.ToString(db.Engine),
		"class":      aws.ToString(db.DBInstanceClass),
		"status":     aws.ToString(db.DBInstanceStatus),
		"multi_az":   aws.ToBool(db.MultiAZ),
		"storage_gb": int(aws.ToInt32(db.AllocatedStorage)),
		"encrypted":  aws.ToBool(db.StorageEncrypted),
	}

	if snapshots, err := client.DescribeDBSnapshots(ctx, &rds.DescribeDBSnapshotsInput{
		DBInstanceIdentifier: aws.String(instanceID),
		MaxRecords:           aws.Int32(20),
	}); err == nil {
		records := []map[string]interface{}{}
		for _, snapshot := range snapshots.DBSnapshots {
			record := map[string]interface{}{
				"id":     aws.ToString(snapshot.DBSnapshotIdentifier),
				"status": aws.ToString(snapshot.Status),
			}
			if snapshot.SnapshotCreateTime != nil {
				record["created"] = snapshot.SnapshotCreateTime.UTC().Format(time.RFC3339)
			}
			records = append(records, record)
		}
		details["snapshots"] = records
	}
}

func (f *Fetcher) bucketDetails(ctx context.Context, client *s3.Client, bucketName string, details map[string]interface{}) {
	bucket := aws.String(bucketName)

	location, err := client.GetBucketLocation(ctx, &s3.GetBucketLocationInput{Bucket: bucket})
	if err != nil {
		details["error"] = err.Error()
		return
	}
	region := string(location.LocationConstraint)
	if region == "" {
		region = defaultRegion
	}
	details["location"] = region

	if versioning, err := client.GetBucketVersioning(ctx, &s3.GetBucketVersioningInput{Bucket: bucket}); err == nil {
		details["versioning"] = versioning.Status == "Enabled"
	}

	details["encrypted"] = false
	if _, err := client.GetBucketEncryption(ctx, &s3.GetBucketEncryptionInput{Bucket: bucket}); err == nil {
		details["encrypted"] = true
	}

	details["lifecycle_rules"] = 0
	if lifecycle, err := client.GetBucketLifecycleConfiguration(ctx, &s3.GetBucketLifecycleConfigurationInput{Bucket: bucket}); err == nil {
		details["lifecycle_rules"] = len(lifecycle.Rules)
	}

	details["tags"] = map[string]string{}
	if tagging, err := client.GetBucketTagging(ctx, &s3.GetBucketTaggingInput{Bucket: bucket}); err == nil {
		tags := map[string]string{}
		for _, tag := range tagging.TagSet {
			tags[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
		}
		details["tags"] = tags
	}
}
