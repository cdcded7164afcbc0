package gcp

import (
	"context"
	"net/http"
	"strings"
)

// FetchDetails implements inventory.DetailFetcher for compute instances and
// storage buckets. Lookup failures surface under an "error" key.
func (f *Fetcher) FetchDetails(ctx context.Context, creds map[string]interface{}, resourceType, resourceID string) map[string]interface{} {
	projectID, _ := creds["projectId"].(string)
	keyJSON, _ := creds["serviceAccountJson"].(string)

	if projectID == "" || keyJSON == "" {
		return map[string]interface{}{"error": "Missing GCP credentials"}
	}

	httpClient, err := f.newClient(ctx, []byte(keyJSON))
	if err != nil {
		return map[string]interface{}{"error": "Invalid GCP service account key: " + err.Error()}
	}

	details := map[string]interface{}{}
	kind := strings.ToLower(resourceType)
	switch {
	case strings.Contains(kind, "instance"):
		f.instanceDetails(ctx, httpClient, projectID, resourceID, details)
	case strings.Contains(kind, "bucket"):
		f.bucketDetails(ctx, httpClient, resourceID, details)
	}
	return details
}

// instanceDetails finds the instance by name in the aggregated listing and
// reports its full record, not the trimmed inventory shape.
func (f *Fetcher) instanceDetails(ctx context.Context, client *http.Client, projectID, name string, details map[string]interface{}) {
	url := f.computeBase + "/projects/" + projectID + "/aggregated/instances"
	raw, err := f.fetchAggregated(ctx, client, url, "instances", func(m map[string]interface{}) map[string]interface{} { return m })
	if err != nil {
		details["error"] = err.Error()
		return
	}

	var instance map[string]interface{}
	for _, m := range raw {
		if str(m, "name") == name {
			instance = m
			break
		}
	}
	if instance == nil {
		return
	}

	details["instance"] = map[string]interface{}{
		"id":           str(instance, "id"),
		"name":         str(instance, "name"),
		"zone":         lastSegment(str(instance, "zone")),
		"machine_type": lastSegment(str(instance, "machineType")),
		"status":       str(instance, "status"),
		"created":      str(instance, "creationTimestamp"),
		"labels":       labels(instance),
	}

	disks := []map[string]interface{}{}
	rawDisks, _ := instance["disks"].([]interface{})
	for _, rawDisk := range rawDisks {
		disk, ok := rawDisk.(map[string]interface{})
		if !ok {
			continue
		}
		boot, _ := disk["boot"].(bool)
		disks = append(disks, map[string]interface{}{
			"name":    str(disk, "deviceName"),
			"size_gb": numericString(disk, "diskSizeGb"),
			"boot":    boot,
		})
	}
	details["disks"] = disks

	interfaces := []map[string]interface{}{}
	rawNics, _ := instance["networkInterfaces"].([]interface{})
	for _, rawNic := range rawNics {
		nic, ok := rawNic.(map[string]interface{})
		if !ok {
			continue
		}
		record := map[string]interface{}{
			"network":     lastSegment(str(nic, "network")),
			"internal_ip": str(nic, "networkIP"),
		}
		if configs, _ := nic["accessConfigs"].([]interface{}); len(configs) > 0 {
			if config, ok := configs[0].(map[string]interface{}); ok {
				record["external_ip"] = str(config, "natIP")
			}
		}
		interfaces = append(interfaces, record)
	}
	details["network_interfaces"] = interfaces

	emails := []string{}
	rawAccounts, _ := instance["serviceAccounts"].([]interface{})
	for _, rawAccount := range rawAccounts {
		if account, ok := rawAccount.(map[string]interface{}); ok {
			emails = append(emails, str(account, "email"))
		}
	}
	details["service_accounts"] = emails
}

func (f *Fetcher) bucketDetails(ctx context.Context, client *http.Client, name string, details map[string]interface{}) {
	bucket, err := f.getJSON(ctx, client, f.storageBase+"/b/"+name)
	if err != nil {
		details["error"] = err.Error()
		return
	}

	versioning := false
	if v, ok := bucket["versioning"].(map[string]interface{}); ok {
		versioning, _ = v["enabled"].(bool)
	}
	lifecycleRules := 0
	if lifecycle, ok := bucket["lifecycle"].(map[string]interface{}); ok {
		rules, _ := lifecycle["rule"].([]interface{})
		lifecycleRules = len(rules)
	}

	details["bucket"] = map[string]interface{}{
		"name":            str(bucket, "name"),
		"location":        str(bucket, "location"),
		"storage_class":   str(bucket, "storageClass"),
		"created":         str(bucket, "timeCreated"),
		"versioning":      versioning,
		"lifecycle_rules": lifecycleRules,
		"labels":          labels(bucket),
	}
}
