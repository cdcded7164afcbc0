package recommend

import (
	"fmt"

	"github.com/platinummonkey/cloudscope/pkg/inventory"
)

// Analyze runs the provider's rule set over an inventory and returns the
// findings with sequential IDs assigned. Unknown providers yield no
// findings.
func Analyze(provider string, resources inventory.Inventory) []*Finding {
	var findings []*Finding
	switch provider {
	case "aws":
		findings = analyzeAWS(resources)
	case "azure":
		findings = analyzeAzure(resources)
	case "gcp":
		findings = analyzeGCP(resources)
	}

	for i, finding := range findings {
		finding.ID = fmt.Sprintf("rec_%d", i+1)
	}
	return findings
}

func analyzeAWS(resources inventory.Inventory) []*Finding {
	findings := []*Finding{}
	instances := items(resources, "compute", "ec2_instances")
	buckets := items(resources, "storage", "s3_buckets")
	databases := items(resources, "database", "rds_instances")
	groups := items(resources, "networking", "security_groups")
	functions := items(resources, "compute", "lambda_functions")

	// Stopped instances still bill for their EBS volumes
	stopped := matching(instances, func(m map[string]interface{}) bool {
		return getString(m, "state") == "stopped"
	})
	if len(stopped) > 0 {
		savings := float64(len(stopped)) * 30 * 0.10
		severity := SeverityMedium
		if savings > 50 {
			severity = SeverityHigh
		}
		findings = append(findings, &Finding{
			Title:             "Stopped EC2 instances with attached storage",
			Description:       fmt.Sprintf("%d stopped EC2 instance(s) are still incurring EBS storage costs.", len(stopped)),
			Recommendation:    "Terminate instances you no longer need, or snapshot and delete their volumes.",
			Category:          CategoryCost,
			Severity:          severity,
			AffectedResources: stopped,
			ResourceCount:     len(stopped),
			EstimatedSavings:  savings,
		})
	}

	unencrypted := matching(buckets, func(m map[string]interface{}) bool {
		return !getBool(m, "encrypted")
	})
	if len(unencrypted) > 0 {
		findings = append(findings, &Finding{
			Title:             "S3 buckets without encryption",
			Description:       fmt.Sprintf("%d S3 bucket(s) have no default encryption configured.", len(unencrypted)),
			Recommendation:    "Enable SSE-S3 or SSE-KMS default encryption on every bucket.",
			Category:          CategorySecurity,
			Severity:          SeverityHigh,
			AffectedResources: unencrypted,
			ResourceCount:     len(unencrypted),
		})
	}

	unversioned := matching(buckets, func(m map[string]interface{}) bool {
		return !getBool(m, "versioning")
	})
	if len(unversioned) > 0 {
		findings = append(findings, &Finding{
			Title:             "S3 buckets without versioning",
			Description:       fmt.Sprintf("%d S3 bucket(s) have versioning disabled, risking data loss on accidental overwrite or delete.", len(unversioned)),
			Recommendation:    "Enable versioning on buckets holding data you cannot recreate.",
			Category:          CategoryReliability,
			Severity:          SeverityMedium,
			AffectedResources: unversioned,
			ResourceCount:     len(unversioned),
		})
	}

	singleAZ := matching(databases, func(m map[string]interface{}) bool {
		return !getBool(m, "multi_az")
	})
	if len(singleAZ) > 0 {
		findings = append(findings, &Finding{
			Title:             "RDS instances without Multi-AZ",
			Description:       fmt.Sprintf("%d RDS instance(s) run in a single availability zone.", len(singleAZ)),
			Recommendation:    "Enable Multi-AZ for production workloads.",
			Category:          CategoryReliability,
			Severity:          SeverityHigh,
			AffectedResources: singleAZ,
			ResourceCount:     len(singleAZ),
		})
	}

	// World-open ports other than HTTP/HTTPS
	exposed := matching(groups, func(m map[string]interface{}) bool {
		for _, port := range intList(m, "open_ports") {
			if port != 80 && port != 443 {
				return true
			}
		}
		return false
	})
	if len(exposed) > 0 {
		findings = append(findings, &Finding{
			Title:             "Security groups open to the internet",
			Description:       fmt.Sprintf("%d security group(s) allow inbound traffic from 0.0.0.0/0 on non-web ports.", len(exposed)),
			Recommendation:    "Restrict inbound rules to known CIDR ranges.",
			Category:          CategorySecurity,
			Severity:          SeverityCritical,
			AffectedResources: exposed,
			ResourceCount:     len(exposed),
		})
	}

	untagged := matching(instances, func(m map[string]interface{}) bool {
		return tagCount(m, "tags") == 0
	})
	if len(untagged) > 5 {
		findings = append(findings, &Finding{
			Title:             "Untagged EC2 instances",
			Description:       fmt.Sprintf("%d EC2 instance(s) have no tags, making cost attribution impossible.", len(untagged)),
			Recommendation:    "Apply owner and environment tags.",
			Category:          CategoryOperational,
			Severity:          SeverityLow,
			AffectedResources: untagged,
			ResourceCount:     len(untagged),
		})
	}

	if len(functions) > 0 {
		findings = append(findings, &Finding{
			Title:             "Review Lambda function utilization",
			Description:       fmt.Sprintf("%d Lambda function(s) deployed.", len(functions)),
			Recommendation:    "Review memory sizing and remove unused functions.",
			Category:          CategoryOperational,
			Severity:          SeverityLow,
			AffectedResources: names(functions),
			ResourceCount:     len(functions),
		})
	}

	return findings
}

func analyzeAzure(resources inventory.Inventory) []*Finding {
	findings := []*Finding{}
	vms := items(resources, "compute", "virtual_machines")
	disks := items(resources, "compute", "disks")
	snapshots := items(resources, "compute", "snapshots")
	accounts := items(resources, "storage", "storage_accounts")

	stopped := matching(vms, func(m map[string]interface{}) bool {
		state := getString(m, "state")
		return state == "stopped" || state == "deallocated"
	})
	if len(stopped) > 0 {
		savings := float64(len(stopped)) * 25
		severity := SeverityMedium
		if savings > 50 {
			severity = SeverityHigh
		}
		findings = append(findings, &Finding{
			Title:             "Stopped virtual machines",
			Description:       fmt.Sprintf("%d VM(s) are stopped but not deallocated or retain billed disks.", len(stopped)),
			Recommendation:    "Deallocate or delete VMs you no longer need.",
			Category:          CategoryCost,
			Severity:          severity,
			AffectedResources: stopped,
			ResourceCount:     len(stopped),
			EstimatedSavings:  savings,
		})
	}

	public := matching(accounts, func(m map[string]interface{}) bool {
		return getBool(m, "public_access")
	})
	if len(public) > 0 {
		findings = append(findings, &Finding{
			Title:             "Storage accounts allowing public blob access",
			Description:       fmt.Sprintf("%d storage account(s) permit public blob access.", len(public)),
			Recommendation:    "Disable public blob access unless the data is intentionally public.",
			Category:          CategorySecurity,
			Severity:          SeverityCritical,
			AffectedResources: public,
			ResourceCount:     len(public),
		})
	}

	unattachedGB := 0
	var unattached []string
	for _, disk := range disks {
		if !getBool(disk, "attached") {
			unattached = append(unattached, resourceName(disk))
			unattachedGB += getInt(disk, "size_gb")
		}
	}
	if len(unattached) > 0 {
		findings = append(findings, &Finding{
			Title:             "Unattached managed disks",
			Description:       fmt.Sprintf("%d unattached disk(s) totaling %d GB are still billed.", len(unattached), unattachedGB),
			Recommendation:    "Delete unattached disks, or snapshot and remove them.",
			Category:          CategoryCost,
			Severity:          SeverityMedium,
			AffectedResources: unattached,
			ResourceCount:     len(unattached),
			EstimatedSavings:  float64(unattachedGB) * 0.05,
		})
	}

	old := matching(snapshots, func(m map[string]interface{}) bool {
		return getInt(m, "age_days") > 90
	})
	if len(old) > 0 {
		findings = append(findings, &Finding{
			Title:             "Snapshots older than 90 days",
			Description:       fmt.Sprintf("%d snapshot(s) are older than 90 days.", len(old)),
			Recommendation:    "Verify retention requirements and delete stale snapshots.",
			Category:          CategoryCost,
			Severity:          SeverityMedium,
			AffectedResources: old,
			ResourceCount:     len(old),
			EstimatedSavings:  float64(len(old)) * 5,
		})
	}

	running := matching(vms, func(m map[string]interface{}) bool {
		return getString(m, "state") == "running"
	})
	if len(running) > 0 {
		findings = append(findings, &Finding{
			Title:             "Review running VM sizing",
			Description:       fmt.Sprintf("%d running VM(s).", len(running)),
			Recommendation:    "Review CPU and memory utilization for rightsizing opportunities.",
			Category:          CategoryOperational,
			Severity:          SeverityLow,
			AffectedResources: running,
			ResourceCount:     len(running),
		})
	}

	return findings
}

func analyzeGCP(resources inventory.Inventory) []*Finding {
	findings := []*Finding{}
	instances := items(resources, "compute", "instances")
	disks := items(resources, "compute", "disks")
	snapshots := items(resources, "compute", "snapshots")
	buckets := items(resources, "storage", "buckets")
	databases := items(resources, "database", "sql_instances")
	firewalls := items(resources, "networking", "firewalls")

	stopped := matching(instances, func(m map[string]interface{}) bool {
		return getString(m, "status") == "TERMINATED"
	})
	if len(stopped) > 0 {
		savings := float64(len(stopped)) * 20
		severity := SeverityMedium
		if savings > 50 {
			severity = SeverityHigh
		}
		findings = append(findings, &Finding{
			Title:             "Stopped Compute Engine instances",
			Description:       fmt.Sprintf("%d terminated instance(s) still have billed persistent disks.", len(stopped)),
			Recommendation:    "Delete instances you no longer need.",
			Category:          CategoryCost,
			Severity:          severity,
			AffectedResources: stopped,
			ResourceCount:     len(stopped),
			EstimatedSavings:  savings,
		})
	}

	public := matching(buckets, func(m map[string]interface{}) bool {
		return getBool(m, "public")
	})
	if len(public) > 0 {
		findings = append(findings, &Finding{
			Title:             "Buckets without public access prevention",
			Description:       fmt.Sprintf("%d bucket(s) do not enforce public access prevention.", len(public)),
			Recommendation:    "Enforce public access prevention unless the data is intentionally public.",
			Category:          CategorySecurity,
			Severity:          SeverityCritical,
			AffectedResources: public,
			ResourceCount:     len(public),
		})
	}

	unencrypted := matching(buckets, func(m map[string]interface{}) bool {
		return !getBool(m, "encrypted")
	})
	if len(unencrypted) > 0 {
		findings = append(findings, &Finding{
			Title:             "Buckets without customer-managed encryption",
			Description:       fmt.Sprintf("%d bucket(s) rely on default encryption only.", len(unencrypted)),
			Recommendation:    "Configure CMEK for sensitive data.",
			Category:          CategorySecurity,
			Severity:          SeverityHigh,
			AffectedResources: unencrypted,
			ResourceCount:     len(unencrypted),
		})
	}

	zonal := matching(databases, func(m map[string]interface{}) bool {
		return getString(m, "availability_type") != "REGIONAL"
	})
	if len(zonal) > 0 {
		findings = append(findings, &Finding{
			Title:             "Cloud SQL instances without high availability",
			Description:       fmt.Sprintf("%d Cloud SQL instance(s) run zonal.", len(zonal)),
			Recommendation:    "Enable REGIONAL availability for production databases.",
			Category:          CategoryReliability,
			Severity:          SeverityHigh,
			AffectedResources: zonal,
			ResourceCount:     len(zonal),
		})
	}

	open := matching(firewalls, func(m map[string]interface{}) bool {
		if !getBool(m, "world_open") {
			return false
		}
		for _, port := range stringList(m, "open_ports") {
			if port != "80" && port != "443" {
				return true
			}
		}
		return false
	})
	if len(open) > 0 {
		findings = append(findings, &Finding{
			Title:             "Firewall rules open to the internet",
			Description:       fmt.Sprintf("%d firewall rule(s) allow inbound traffic from 0.0.0.0/0 on non-web ports.", len(open)),
			Recommendation:    "Restrict source ranges to known CIDRs.",
			Category:          CategorySecurity,
			Severity:          SeverityCritical,
			AffectedResources: open,
			ResourceCount:     len(open),
		})
	}

	unlabeled := matching(instances, func(m map[string]interface{}) bool {
		return tagCount(m, "labels") == 0
	})
	if len(unlabeled) > 5 {
		findings = append(findings, &Finding{
			Title:             "Unlabeled Compute Engine instances",
			Description:       fmt.Sprintf("%d instance(s) have no labels, making cost attribution impossible.", len(unlabeled)),
			Recommendation:    "Apply team and environment labels.",
			Category:          CategoryOperational,
			Severity:          SeverityLow,
			AffectedResources: unlabeled,
			ResourceCount:     len(unlabeled),
		})
	}

	unattachedGB := 0
	var unattached []string
	for _, disk := range disks {
		if !getBool(disk, "attached") {
			unattached = append(unattached, resourceName(disk))
			unattachedGB += getInt(disk, "size_gb")
		}
	}
	if len(unattached) > 0 {
		findings = append(findings, &Finding{
			Title:             "Unattached persistent disks",
			Description:       fmt.Sprintf("%d unattached disk(s) totaling %d GB are still billed.", len(unattached), unattachedGB),
			Recommendation:    "Delete unattached disks, or snapshot and remove them.",
			Category:          CategoryCost,
			Severity:          SeverityMedium,
			AffectedResources: unattached,
			ResourceCount:     len(unattached),
			EstimatedSavings:  float64(unattachedGB) * 0.04,
		})
	}

	oldGB := 0
	var old []string
	for _, snapshot := range snapshots {
		if getInt(snapshot, "age_days") > 90 {
			old = append(old, resourceName(snapshot))
			oldGB += getInt(snapshot, "size_gb")
		}
	}
	if len(old) > 0 {
		findings = append(findings, &Finding{
			Title:             "Snapshots older than 90 days",
			Description:       fmt.Sprintf("%d snapshot(s) older than 90 days totaling %d GB.", len(old), oldGB),
			Recommendation:    "Verify retention requirements and delete stale snapshots.",
			Category:          CategoryCost,
			Severity:          SeverityMedium,
			AffectedResources: old,
			ResourceCount:     len(old),
			EstimatedSavings:  float64(oldGB) * 0.026,
		})
	}

	running := matching(instances, func(m map[string]interface{}) bool {
		return getString(m, "status") == "RUNNING"
	})
	if len(running) > 0 {
		findings = append(findings, &Finding{
			Title:             "Review running instance sizing",
			Description:       fmt.Sprintf("%d running instance(s).", len(running)),
			Recommendation:    "Review utilization for rightsizing and committed use discounts.",
			Category:          CategoryOperational,
			Severity:          SeverityLow,
			AffectedResources: running,
			ResourceCount:     len(running),
		})
	}

	return findings
}

func items(resources inventory.Inventory, category, resourceType string) []map[string]interface{} {
	if types, ok := resources[category]; ok {
		return types[resourceType]
	}
	return nil
}

// matching returns the identifiers of records the predicate accepts,
// preserving inventory order
func matching(items []map[string]interface{}, match func(map[string]interface{}) bool) []string {
	var out []string
	for _, item := range items {
		if match(item) {
			out = append(out, resourceName(item))
		}
	}
	return out
}

func names(items []map[string]interface{}) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, resourceName(item))
	}
	return out
}

// resourceName prefers the provider-assigned id, falling back to the
// display name for record types that have no separate id
func resourceName(m map[string]interface{}) string {
	if id := getString(m, "id"); id != "" {
		return id
	}
	return getString(m, "name")
}

func getString(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}

func getBool(m map[string]interface{}, key string) bool {
	b, _ := m[key].(bool)
	return b
}

// getInt tolerates both native ints and JSON-decoded float64 values, since
// findings are computed over snapshots that round-trip through JSON
func getInt(m map[string]interface{}, key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func intList(m map[string]interface{}, key string) []int {
	switch v := m[key].(type) {
	case []int:
		return v
	case []interface{}:
		out := make([]int, 0, len(v))
		for _, raw := range v {
			if f, ok := raw.(float64); ok {
				out = append(out, int(f))
			}
		}
		return out
	}
	return nil
}

func stringList(m map[string]interface{}, key string) []string {
	switch v := m[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, raw := range v {
			if s, ok := raw.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func tagCount(m map[string]interface{}, key string) int {
	switch v := m[key].(type) {
	case map[string]string:
		return len(v)
	case map[string]interface{}:
		return len(v)
	}
	return 0
}
