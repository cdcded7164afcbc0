// Package gcp fetches a best-effort resource inventory from a GCP project
// using a service account key from client metadata. Calls go straight to the
// REST APIs with an OAuth2-authenticated HTTP client.
package gcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/oauth2/google"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/cloudscope/pkg/inventory"
	"github.com/platinummonkey/cloudscope/pkg/observability"
)

const (
	requestTimeout = 5 * time.Second
	cloudScope     = "https://www.googleapis.com/auth/cloud-platform"
)

// Fetcher collects compute, disk, snapshot, bucket, Cloud SQL, network, and
// firewall inventory in parallel. Sub-service failures degrade to empty
// lists.
type Fetcher struct {
	logger  *observability.Logger
	metrics *observability.Metrics

	// API roots and the client factory are swappable in tests
	computeBase string
	storageBase string
	sqlBase     string
	newClient   func(ctx context.Context, keyJSON []byte) (*http.Client, error)
}

// New creates a GCP fetcher. metrics may be nil.
func New(logger *observability.Logger, metrics *observability.Metrics) *Fetcher {
	return &Fetcher{
		logger:      logger,
		metrics:     metrics,
		computeBase: "https://compute.googleapis.com/compute/v1",
		storageBase: "https://storage.googleapis.com/storage/v1",
		sqlBase:     "https://sqladmin.googleapis.com/v1",
		newClient:   serviceAccountClient,
	}
}

// serviceAccountClient builds an OAuth2 HTTP client from a service account
// key
func serviceAccountClient(ctx context.Context, keyJSON []byte) (*http.Client, error) {
	conf, err := google.JWTConfigFromJSON(keyJSON, cloudScope)
	if err != nil {
		return nil, err
	}
	client := conf.Client(ctx)
	client.Timeout = requestTimeout
	return client, nil
}

// Provider implements inventory.Fetcher
func (f *Fetcher) Provider() string { return "gcp" }

func emptyShape() inventory.Inventory {
	return inventory.Inventory{
		"compute":    {"instances": {}, "disks": {}, "snapshots": {}},
		"database":   {"sql_instances": {}},
		"storage":    {"buckets": {}},
		"networking": {"networks": {}, "firewalls": {}},
	}
}

// Fetch implements inventory.Fetcher
func (f *Fetcher) Fetch(ctx context.Context, clientID int64, creds map[string]interface{}) *inventory.Result {
	projectID, _ := creds["projectId"].(string)
	keyJSON, _ := creds["serviceAccountJson"].(string)

	if projectID == "" || keyJSON == "" {
		return &inventory.Result{Resources: emptyShape(), Error: "Missing GCP credentials"}
	}

	httpClient, err := f.newClient(ctx, []byte(keyJSON))
	if err != nil {
		return &inventory.Result{Resources: emptyShape(), Error: "Invalid GCP service account key: " + err.Error()}
	}

	inv := emptyShape()
	var mu sync.Mutex
	set := func(category, resourceType string, items []map[string]interface{}) {
		mu.Lock()
		inv[category][resourceType] = items
		mu.Unlock()
	}

	computeBase := f.computeBase + "/projects/" + projectID

	type subFetch struct {
		service      string
		category     string
		resourceType string
		run          func(context.Context) ([]map[string]interface{}, error)
	}
	subs := []subFetch{
		{"instances", "compute", "instances", func(ctx context.Context) ([]map[string]interface{}, error) {
			return f.fetchAggregated(ctx, httpClient, computeBase+"/aggregated/instances", "instances", instanceRecord)
		}},
		{"disks", "compute", "disks", func(ctx context.Context) ([]map[string]interface{}, error) {
			return f.fetchAggregated(ctx, httpClient, computeBase+"/aggregated/disks", "disks", diskRecord)
		}},
		{"snapshots", "compute", "snapshots", func(ctx context.Context) ([]map[string]interface{}, error) {
			return f.fetchList(ctx, httpClient, computeBase+"/global/snapshots", snapshotRecord)
		}},
		{"buckets", "storage", "buckets", func(ctx context.Context) ([]map[string]interface{}, error) {
			return f.fetchList(ctx, httpClient, f.storageBase+"/b?project="+projectID, bucketRecord)
		}},
		{"sql", "database", "sql_instances", func(ctx context.Context) ([]map[string]interface{}, error) {
			return f.fetchList(ctx, httpClient, f.sqlBase+"/instances?project="+projectID, sqlRecord)
		}},
		{"networks", "networking", "networks", func(ctx context.Context) ([]map[string]interface{}, error) {
			return f.fetchList(ctx, httpClient, computeBase+"/global/networks", networkRecord)
		}},
		{"firewalls", "networking", "firewalls", func(ctx context.Context) ([]map[string]interface{}, error) {
			return f.fetchList(ctx, httpClient, computeBase+"/global/firewalls", firewallRecord)
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
				}).Warn("gcp sub-service fetch failed")
				if f.metrics != nil {
					f.metrics.ProviderFetchErrors.WithLabelValues("gcp", sub.service).Inc()
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

// getJSON issues one GET with a single retry on failure
func (f *Fetcher) getJSON(ctx context.Context, client *http.Client, url string) (map[string]interface{}, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("gcp api %s: status %d", url, resp.StatusCode)
			continue
		}
		var out map[string]interface{}
		if err := json.Unmarshal(body, &out); err != nil {
			return nil, err
		}
		return out, nil
	}
	return nil, lastErr
}

// fetchList handles flat list responses with an "items" array
func (f *Fetcher) fetchList(ctx context.Context, client *http.Client, url string, record func(map[string]interface{}) map[string]interface{}) ([]map[string]interface{}, error) {
	out, err := f.getJSON(ctx, client, url)
	if err != nil {
		return nil, err
	}

	items := []map[string]interface{}{}
	rawItems, _ := out["items"].([]interface{})
	for _, raw := range rawItems {
		if m, ok := raw.(map[string]interface{}); ok {
			items = append(items, record(m))
		}
	}
	return items, nil
}

// fetchAggregated handles zone-aggregated responses where "items" maps scope
// names to per-scope lists
func (f *Fetcher) fetchAggregated(ctx context.Context, client *http.Client, url, key string, record func(map[string]interface{}) map[string]interface{}) ([]map[string]interface{}, error) {
	out, err := f.getJSON(ctx, client, url)
	if err != nil {
		return nil, err
	}

	items := []map[string]interface{}{}
	scopes, _ := out["items"].(map[string]interface{})
	for _, rawScope := range scopes {
		scope, ok := rawScope.(map[string]interface{})
		if !ok {
			continue
		}
		scopeItems, _ := scope[key].([]interface{})
		for _, raw := range scopeItems {
			if m, ok := raw.(map[string]interface{}); ok {
				items = append(items, record(m))
			}
		}
	}
	return items, nil
}

func instanceRecord(m map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"name":         str(m, "name"),
		"machine_type": lastSegment(str(m, "machineType")),
		"status":       str(m, "status"),
		"zone":         lastSegment(str(m, "zone")),
		"labels":       labels(m),
	}
}

func diskRecord(m map[string]interface{}) map[string]interface{} {
	users, _ := m["users"].([]interface{})
	return map[string]interface{}{
		"name":     str(m, "name"),
		"size_gb":  numericString(m, "sizeGb"),
		"zone":     lastSegment(str(m, "zone")),
		"attached": len(users) > 0,
		"labels":   labels(m),
	}
}

func snapshotRecord(m map[string]interface{}) map[string]interface{} {
	record := map[string]interface{}{
		"name":    str(m, "name"),
		"size_gb": numericString(m, "diskSizeGb"),
	}
	if created, err := time.Parse(time.RFC3339, str(m, "creationTimestamp")); err == nil {
		record["created"] = created.UTC().Format(time.RFC3339)
		record["age_days"] = int(time.Since(created).Hours() / 24)
	}
	return record
}

func bucketRecord(m map[string]interface{}) map[string]interface{} {
	record := map[string]interface{}{
		"name":      str(m, "name"),
		"location":  str(m, "location"),
		"public":    true,
		"encrypted": false,
		"labels":    labels(m),
	}
	if iam, ok := m["iamConfiguration"].(map[string]interface{}); ok {
		record["public"] = str(iam, "publicAccessPrevention") != "enforced"
	}
	if enc, ok := m["encryption"].(map[string]interface{}); ok {
		record["encrypted"] = str(enc, "defaultKmsKeyName") != ""
	}
	return record
}

func sqlRecord(m map[string]interface{}) map[string]interface{} {
	record := map[string]interface{}{
		"name":             str(m, "name"),
		"database_version": str(m, "databaseVersion"),
		"state":            str(m, "state"),
	}
	if settings, ok := m["settings"].(map[string]interface{}); ok {
		record["availability_type"] = str(settings, "availabilityType")
		record["tier"] = str(settings, "tier")
	}
	return record
}

func networkRecord(m map[string]interface{}) map[string]interface{} {
	auto, _ := m["autoCreateSubnetworks"].(bool)
	return map[string]interface{}{
		"name":                    str(m, "name"),
		"auto_create_subnetworks": auto,
	}
}

func firewallRecord(m map[string]interface{}) map[string]interface{} {
	worldOpen := false
	ranges, _ := m["sourceRanges"].([]interface{})
	for _, r := range ranges {
		if r == "0.0.0.0/0" {
			worldOpen = true
			break
		}
	}

	openPorts := []string{}
	if worldOpen {
		allowed, _ := m["allowed"].([]interface{})
		for _, raw := range allowed {
			rule, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			ports, _ := rule["ports"].([]interface{})
			for _, p := range ports {
				if s, ok := p.(string); ok {
					openPorts = append(openPorts, s)
				}
			}
		}
	}

	return map[string]interface{}{
		"name":       str(m, "name"),
		"direction":  str(m, "direction"),
		"world_open": worldOpen,
		"open_ports": openPorts,
	}
}

func str(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}

func labels(m map[string]interface{}) map[string]string {
	out := map[string]string{}
	raw, _ := m["labels"].(map[string]interface{})
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

// numericString parses GCP's stringly-typed numeric fields like sizeGb
func numericString(m map[string]interface{}, key string) int {
	switch v := m[key].(type) {
	case string:
		n, _ := strconv.Atoi(v)
		return n
	case float64:
		return int(v)
	}
	return 0
}

func lastSegment(url string) string {
	for i := len(url) - 1; i >= 0; i-- {
		if url[i] == '/' {
			return url[i+1:]
		}
	}
	return url
}
