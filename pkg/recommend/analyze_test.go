package recommend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/cloudscope/pkg/inventory"
)

func findByTitle(findings []*Finding, title string) *Finding {
	for _, f := range findings {
		if f.Title == title {
			return f
		}
	}
	return nil
}

func TestAnalyzeAWSStoppedInstances(t *testing.T) {
	resources := inventory.Inventory{
		"compute": {
			"ec2_instances": {
				{"id": "i-1", "state": "stopped", "tags": map[string]string{"env": "dev"}},
				{"id": "i-2", "state": "stopped", "tags": map[string]string{"env": "dev"}},
				{"id": "i-3", "state": "running", "tags": map[string]string{"env": "dev"}},
			},
		},
	}

	findings := Analyze("aws", resources)
	finding := findByTitle(findings, "Stopped EC2 instances with attached storage")
	require.NotNil(t, finding)
	assert.Equal(t, 2, finding.ResourceCount)
	assert.Equal(t, []string{"i-1", "i-2"}, finding.AffectedResources)
	assert.NotEmpty(t, finding.Recommendation)
	assert.InDelta(t, 6.0, finding.EstimatedSavings, 0.001)
	assert.Equal(t, SeverityMedium, finding.Severity)
	assert.Equal(t, CategoryCost, finding.Category)
}

func TestAnalyzeAWSStoppedInstancesHighSeverity(t *testing.T) {
	instances := []map[string]interface{}{}
	for i := 0; i < 20; i++ {
		instances = append(instances, map[string]interface{}{"state": "stopped", "tags": map[string]string{"env": "x"}})
	}
	resources := inventory.Inventory{"compute": {"ec2_instances": instances}}

	finding := findByTitle(Analyze("aws", resources), "Stopped EC2 instances with attached storage")
	require.NotNil(t, finding)
	assert.InDelta(t, 60.0, finding.EstimatedSavings, 0.001)
	assert.Equal(t, SeverityHigh, finding.Severity)
}

func TestAnalyzeAWSSecurityFindings(t *testing.T) {
	resources := inventory.Inventory{
		"storage": {
			"s3_buckets": {
				{"name": "open", "encrypted": false, "versioning": false},
				{"name": "safe", "encrypted": true, "versioning": true},
			},
		},
		"networking": {
			"security_groups": {
				{"id": "sg-1", "open_ports": []int{22}},
				{"id": "sg-2", "open_ports": []int{80, 443}},
				{"id": "sg-3", "open_ports": []int{}},
			},
		},
		"database": {
			"rds_instances": {
				{"id": "db-1", "multi_az": false},
			},
		},
	}

	findings := Analyze("aws", resources)

	encryption := findByTitle(findings, "S3 buckets without encryption")
	require.NotNil(t, encryption)
	assert.Equal(t, 1, encryption.ResourceCount)
	assert.Equal(t, SeverityHigh, encryption.Severity)

	versioning := findByTitle(findings, "S3 buckets without versioning")
	require.NotNil(t, versioning)
	assert.Equal(t, SeverityMedium, versioning.Severity)
	assert.Equal(t, CategoryReliability, versioning.Category)

	// Only sg-1 exposes a non-web port to the world
	exposed := findByTitle(findings, "Security groups open to the internet")
	require.NotNil(t, exposed)
	assert.Equal(t, 1, exposed.ResourceCount)
	assert.Equal(t, SeverityCritical, exposed.Severity)

	multiAZ := findByTitle(findings, "RDS instances without Multi-AZ")
	require.NotNil(t, multiAZ)
	assert.Equal(t, SeverityHigh, multiAZ.Severity)
}

func TestAnalyzeAWSUntaggedThreshold(t *testing.T) {
	makeInstances := func(untagged int) inventory.Inventory {
		instances := []map[string]interface{}{}
		for i := 0; i < untagged; i++ {
			instances = append(instances, map[string]interface{}{"state": "running", "tags": map[string]string{}})
		}
		return inventory.Inventory{"compute": {"ec2_instances": instances}}
	}

	// Five or fewer untagged instances is not worth a finding
	assert.Nil(t, findByTitle(Analyze("aws", makeInstances(5)), "Untagged EC2 instances"))

	finding := findByTitle(Analyze("aws", makeInstances(6)), "Untagged EC2 instances")
	require.NotNil(t, finding)
	assert.Equal(t, 6, finding.ResourceCount)
	assert.Equal(t, SeverityLow, finding.Severity)
}

func TestAnalyzeAzure(t *testing.T) {
	resources := inventory.Inventory{
		"compute": {
			"virtual_machines": {
				{"name": "vm-1", "state": "deallocated"},
				{"name": "vm-2", "state": "running"},
			},
			"disks": {
				{"name": "d-1", "attached": false, "size_gb": 100},
				{"name": "d-2", "attached": true, "size_gb": 50},
			},
			"snapshots": {
				{"name": "snap-1", "age_days": 120},
				{"name": "snap-2", "age_days": 10},
			},
		},
		"storage": {
			"storage_accounts": {
				{"name": "pub", "public_access": true},
			},
		},
	}

	findings := Analyze("azure", resources)

	stopped := findByTitle(findings, "Stopped virtual machines")
	require.NotNil(t, stopped)
	assert.InDelta(t, 25.0, stopped.EstimatedSavings, 0.001)

	public := findByTitle(findings, "Storage accounts allowing public blob access")
	require.NotNil(t, public)
	assert.Equal(t, SeverityCritical, public.Severity)

	disks := findByTitle(findings, "Unattached managed disks")
	require.NotNil(t, disks)
	assert.Equal(t, 1, disks.ResourceCount)
	assert.InDelta(t, 5.0, disks.EstimatedSavings, 0.001)

	snapshots := findByTitle(findings, "Snapshots older than 90 days")
	require.NotNil(t, snapshots)
	assert.Equal(t, 1, snapshots.ResourceCount)
	assert.InDelta(t, 5.0, snapshots.EstimatedSavings, 0.001)
}

func TestAnalyzeGCP(t *testing.T) {
	resources := inventory.Inventory{
		"compute": {
			"instances": {
				{"name": "vm-1", "status": "TERMINATED", "labels": map[string]string{"team": "a"}},
				{"name": "vm-2", "status": "RUNNING", "labels": map[string]string{"team": "a"}},
			},
			"disks": {
				{"name": "d-1", "attached": false, "size_gb": 200},
			},
			"snapshots": {
				{"name": "s-1", "age_days": 100, "size_gb": 500},
			},
		},
		"storage": {
			"buckets": {
				{"name": "b-1", "public": true, "encrypted": false},
			},
		},
		"database": {
			"sql_instances": {
				{"name": "sql-1", "availability_type": "ZONAL"},
				{"name": "sql-2", "availability_type": "REGIONAL"},
			},
		},
		"networking": {
			"firewalls": {
				{"name": "fw-1", "world_open": true, "open_ports": []string{"22"}},
				{"name": "fw-2", "world_open": true, "open_ports": []string{"80", "443"}},
			},
		},
	}

	findings := Analyze("gcp", resources)

	stopped := findByTitle(findings, "Stopped Compute Engine instances")
	require.NotNil(t, stopped)
	assert.InDelta(t, 20.0, stopped.EstimatedSavings, 0.001)

	assert.NotNil(t, findByTitle(findings, "Buckets without public access prevention"))
	assert.NotNil(t, findByTitle(findings, "Buckets without customer-managed encryption"))

	ha := findByTitle(findings, "Cloud SQL instances without high availability")
	require.NotNil(t, ha)
	assert.Equal(t, 1, ha.ResourceCount)

	open := findByTitle(findings, "Firewall rules open to the internet")
	require.NotNil(t, open)
	assert.Equal(t, 1, open.ResourceCount)

	disks := findByTitle(findings, "Unattached persistent disks")
	require.NotNil(t, disks)
	assert.InDelta(t, 8.0, disks.EstimatedSavings, 0.001)

	snapshots := findByTitle(findings, "Snapshots older than 90 days")
	require.NotNil(t, snapshots)
	assert.InDelta(t, 13.0, snapshots.EstimatedSavings, 0.001)
}

func TestAnalyzeAssignsSequentialIDs(t *testing.T) {
	resources := inventory.Inventory{
		"storage": {
			"s3_buckets": {
				{"name": "b", "encrypted": false, "versioning": false},
			},
		},
	}

	findings := Analyze("aws", resources)
	require.Len(t, findings, 2)
	assert.Equal(t, "rec_1", findings[0].ID)
	assert.Equal(t, "rec_2", findings[1].ID)
}

func TestAnalyzeUnknownProvider(t *testing.T) {
	assert.Empty(t, Analyze("oraclecloud", inventory.EmptyShape()))
}

func TestAnalyzeJSONRoundTrippedValues(t *testing.T) {
	// Snapshot-sourced inventories decode numbers as float64 and tag maps as
	// map[string]interface{}
	resources := inventory.Inventory{
		"compute": {
			"disks": {
				{"name": "d-1", "attached": false, "size_gb": float64(100)},
			},
		},
		"networking": {
			"network_security_groups": {},
		},
	}

	findings := Analyze("azure", resources)
	disks := findByTitle(findings, "Unattached managed disks")
	require.NotNil(t, disks)
	assert.InDelta(t, 5.0, disks.EstimatedSavings, 0.001)
}
