// Package azure fetches a best-effort resource inventory from an Azure
// subscription using a service principal from client metadata.
package azure

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/compute/armcompute/v2"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/network/armnetwork"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armresources"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/storage/armstorage"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/cloudscope/pkg/inventory"
	"github.com/platinummonkey/cloudscope/pkg/observability"
)

// Fetcher collects virtual machine, disk, snapshot, storage account,
// network, and resource group inventory in parallel. Sub-service failures
// degrade to empty lists.
type Fetcher struct {
	logger  *observability.Logger
	metrics *observability.Metrics
}

// New creates an Azure fetcher. metrics may be nil.
func New(logger *observability.Logger, metrics *observability.Metrics) *Fetcher {
	return &Fetcher{logger: logger, metrics: metrics}
}

// Provider implements inventory.Fetcher
func (f *Fetcher) Provider() string { return "azure" }

func emptyShape() inventory.Inventory {
	return inventory.Inventory{
		"compute":    {"virtual_machines": {}, "disks": {}, "snapshots": {}},
		"storage":    {"storage_accounts": {}},
		"networking": {"virtual_networks": {}, "network_security_groups": {}},
		"management": {"resource_groups": {}},
	}
}

// Fetch implements inventory.Fetcher
func (f *Fetcher) Fetch(ctx context.Context, clientID int64, creds map[string]interface{}) *inventory.Result {
	tenantID, _ := creds["tenantId"].(string)
	appID, _ := creds["clientId"].(string)
	secret, _ := creds["clientSecret"].(string)
	subscriptionID, _ := creds["subscriptionId"].(string)

	if tenantID == "" || appID == "" || secret == "" || subscriptionID == "" {
		return &inventory.Result{Resources: emptyShape(), Error: "Incomplete Azure credentials"}
	}

	credential, err := azidentity.NewClientSecretCredential(tenantID, appID, secret, nil)
	if err != nil {
		return &inventory.Result{Resources: emptyShape(), Error: "Failed to authenticate with Azure: " + err.Error()}
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
		{"virtual_machines", "compute", "virtual_machines", func(ctx context.Context) ([]map[string]interface{}, error) {
			client, err := armcompute.NewVirtualMachinesClient(subscriptionID, credential, nil)
			if err != nil {
				return nil, err
			}
			return f.fetchVirtualMachines(ctx, client)
		}},
		{"disks", "compute", "disks", func(ctx context.Context) ([]map[string]interface{}, error) {
			client, err := armcompute.NewDisksClient(subscriptionID, credential, nil)
			if err != nil {
				return nil, err
			}
			return f.fetchDisks(ctx, client)
		}},
		{"snapshots", "compute", "snapshots", func(ctx context.Context) ([]map[string]interface{}, error) {
			client, err := armcompute.NewSnapshotsClient(subscriptionID, credential, nil)
			if err != nil {
				return nil, err
			}
			return f.fetchSnapshots(ctx, client)
		}},
		{"storage_accounts", "storage", "storage_accounts", func(ctx context.Context) ([]map[string]interface{}, error) {
			client, err := armstorage.NewAccountsClient(subscriptionID, credential, nil)
			if err != nil {
				return nil, err
			}
			return f.fetchStorageAccounts(ctx, client)
		}},
		{"virtual_networks", "networking", "virtual_networks", func(ctx context.Context) ([]map[string]interface{}, error) {
			client, err := armnetwork.NewVirtualNetworksClient(subscriptionID, credential, nil)
			if err != nil {
				return nil, err
			}
			return f.fetchVirtualNetworks(ctx, client)
		}},
		{"network_security_groups", "networking", "network_security_groups", func(ctx context.Context) ([]map[string]interface{}, error) {
			client, err := armnetwork.NewSecurityGroupsClient(subscriptionID, credential, nil)
			if err != nil {
				return nil, err
			}
			return f.fetchSecurityGroups(ctx, client)
		}},
		{"resource_groups", "management", "resource_groups", func(ctx context.Context) ([]map[string]interface{}, error) {
			client, err := armresources.NewResourceGroupsClient(subscriptionID, credential, nil)
			if err != nil {
				return nil, err
			}
			return f.fetchResourceGroups(ctx, client)
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
				}).Warn("azure sub-service fetch failed")
				if f.metrics != nil {
					f.metrics.ProviderFetchErrors.WithLabelValues("azure", sub.service).Inc()
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

func (f *Fetcher) fetchVirtualMachines(ctx context.Context, client *armcompute.VirtualMachinesClient) ([]map[string]interface{}, error) {
	items := []map[string]interface{}{}
	pager := client.NewListAllPager(&armcompute.VirtualMachinesClientListAllOptions{
		StatusOnly: to.Ptr("true"),
	})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, vm := range page.Value {
			record := map[string]interface{}{
				"id":       deref(vm.ID),
				"name":     deref(vm.Name),
				"location": deref(vm.Location),
				"state":    vmPowerState(vm),
				"tags":     tagsToMap(vm.Tags),
			}
			if vm.Properties != nil && vm.Properties.HardwareProfile != nil && vm.Properties.HardwareProfile.VMSize != nil {
				record["size"] = string(*vm.Properties.HardwareProfile.VMSize)
			}
			items = append(items, record)
		}
	}
	return items, nil
}

func (f *Fetcher) fetchDisks(ctx context.Context, client *armcompute.DisksClient) ([]map[string]interface{}, error) {
	items := []map[string]interface{}{}
	pager := client.NewListPager(nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, disk := range page.Value {
			record := map[string]interface{}{
				"id":       deref(disk.ID),
				"name":     deref(disk.Name),
				"location": deref(disk.Location),
				"attached": disk.ManagedBy != nil && *disk.ManagedBy != "",
				"tags":     tagsToMap(disk.Tags),
			}
			if disk.Properties != nil {
				if disk.Properties.DiskSizeGB != nil {
					record["size_gb"] = int(*disk.Properties.DiskSizeGB)
				}
				if disk.Properties.DiskState != nil {
					record["state"] = string(*disk.Properties.DiskState)
				}
			}
			items = append(items, record)
		}
	}
	return items, nil
}

func (f *Fetcher) fetchSnapshots(ctx context.Context, client *armcompute.SnapshotsClient) ([]map[string]interface{}, error) {
	items := []map[string]interface{}{}
	pager := client.NewListPager(nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, snapshot := range page.Value {
			record := map[string]interface{}{
				"id":       deref(snapshot.ID),
				"name":     deref(snapshot.Name),
				"location": deref(snapshot.Location),
			}
			if snapshot.Properties != nil {
				if snapshot.Properties.DiskSizeGB != nil {
					record["size_gb"] = int(*snapshot.Properties.DiskSizeGB)
				}
				if snapshot.Properties.TimeCreated != nil {
					created := snapshot.Properties.TimeCreated.UTC()
					record["created"] = created.Format(time.RFC3339)
					record["age_days"] = int(time.Since(created).Hours() / 24)
				}
			}
			items = append(items, record)
		}
	}
	return items, nil
}

func (f *Fetcher) fetchStorageAccounts(ctx context.Context, client *armstorage.AccountsClient) ([]map[string]interface{}, error) {
	items := []map[string]interface{}{}
	pager := client.NewListPager(nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, account := range page.Value {
			record := map[string]interface{}{
				"id":            deref(account.ID),
				"name":          deref(account.Name),
				"location":      deref(account.Location),
				"public_access": false,
				"https_only":    false,
				"tags":          tagsToMap(account.Tags),
			}
			if account.Properties != nil {
				if account.Properties.AllowBlobPublicAccess != nil {
					record["public_access"] = *account.Properties.AllowBlobPublicAccess
				}
				if account.Properties.EnableHTTPSTrafficOnly != nil {
					record["https_only"] = *account.Properties.EnableHTTPSTrafficOnly
				}
			}
			items = append(items, record)
		}
	}
	return items, nil
}

func (f *Fetcher) fetchVirtualNetworks(ctx context.Context, client *armnetwork.VirtualNetworksClient) ([]map[string]interface{}, error) {
	items := []map[string]interface{}{}
	pager := client.NewListAllPager(nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, vnet := range page.Value {
			record := map[string]interface{}{
				"id":       deref(vnet.ID),
				"name":     deref(vnet.Name),
				"location": deref(vnet.Location),
			}
			if vnet.Properties != nil && vnet.Properties.AddressSpace != nil {
				prefixes := []string{}
				for _, prefix := range vnet.Properties.AddressSpace.AddressPrefixes {
					prefixes = append(prefixes, deref(prefix))
				}
				record["address_space"] = prefixes
			}
			items = append(items, record)
		}
	}
	return items, nil
}

func (f *Fetcher) fetchSecurityGroups(ctx context.Context, client *armnetwork.SecurityGroupsClient) ([]map[string]interface{}, error) {
	items := []map[string]interface{}{}
	pager := client.NewListAllPager(nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, nsg := range page.Value {
			openPorts := []string{}
			if nsg.Properties != nil {
				for _, rule := range nsg.Properties.SecurityRules {
					if rule.Properties == nil {
						continue
					}
					p := rule.Properties
					if p.Access == nil || *p.Access != armnetwork.SecurityRuleAccessAllow {
						continue
					}
					if p.Direction == nil || *p.Direction != armnetwork.SecurityRuleDirectionInbound {
						continue
					}
					if p.SourceAddressPrefix != nil && isWorldOpen(*p.SourceAddressPrefix) {
						openPorts = append(openPorts, deref(p.DestinationPortRange))
					}
				}
			}
			items = append(items, map[string]interface{}{
				"id":         deref(nsg.ID),
				"name":       deref(nsg.Name),
				"location":   deref(nsg.Location),
				"open_ports": openPorts,
			})
		}
	}
	return items, nil
}

func (f *Fetcher) fetchResourceGroups(ctx context.Context, client *armresources.ResourceGroupsClient) ([]map[string]interface{}, error) {
	items := []map[string]interface{}{}
	pager := client.NewListPager(nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, group := range page.Value {
			items = append(items, map[string]interface{}{
				"id":       deref(group.ID),
				"name":     deref(group.Name),
				"location": deref(group.Location),
			})
		}
	}
	return items, nil
}

// vmPowerState extracts the power state from the instance view statuses
func vmPowerState(vm *armcompute.VirtualMachine) string {
	if vm.Properties == nil || vm.Properties.InstanceView == nil {
		return "unknown"
	}
	for _, status := range vm.Properties.InstanceView.Statuses {
		code := deref(status.Code)
		if strings.HasPrefix(code, "PowerState/") {
			return strings.TrimPrefix(code, "PowerState/")
		}
	}
	return "unknown"
}

func isWorldOpen(prefix string) bool {
	switch prefix {
	case "*", "0.0.0.0/0", "Internet":
		return true
	}
	return false
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func tagsToMap(tags map[string]*string) map[string]string {
	out := map[string]string{}
	for k, v := range tags {
		out[k] = deref(v)
	}
	return out
}
