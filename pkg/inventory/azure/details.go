package azure

import (
	"context"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/compute/armcompute/v2"
)

// FetchDetails implements inventory.DetailFetcher for virtual machines and
// managed disks. Lookup failures surface under an "error" key.
func (f *Fetcher) FetchDetails(ctx context.Context, creds map[string]interface{}, resourceType, resourceID string) map[string]interface{} {
	tenantID, _ := creds["tenantId"].(string)
	appID, _ := creds["clientId"].(string)
	secret, _ := creds["clientSecret"].(string)
	subscriptionID, _ := creds["subscriptionId"].(string)

	if tenantID == "" || appID == "" || secret == "" || subscriptionID == "" {
		return map[string]interface{}{"error": "Incomplete Azure credentials"}
	}

	credential, err := azidentity.NewClientSecretCredential(tenantID, appID, secret, nil)
	if err != nil {
		return map[string]interface{}{"error": "Failed to authenticate with Azure: " + err.Error()}
	}

	details := map[string]interface{}{}
	kind := strings.ToLower(resourceType)
	switch {
	case strings.Contains(kind, "vm") || strings.Contains(kind, "virtual_machine"):
		client, err := armcompute.NewVirtualMachinesClient(subscriptionID, credential, nil)
		if err != nil {
			details["error"] = err.Error()
			return details
		}
		f.vmDetails(ctx, client, resourceID, details)
	case strings.Contains(kind, "disk"):
		client, err := armcompute.NewDisksClient(subscriptionID, credential, nil)
		if err != nil {
			details["error"] = err.Error()
			return details
		}
		f.diskDetails(ctx, client, resourceID, details)
	}
	return details
}

// vmDetails locates the VM by name across the subscription, then pulls its
// instance view for live power and provisioning status.
func (f *Fetcher) vmDetails(ctx context.Context, client *armcompute.VirtualMachinesClient, name string, details map[string]interface{}) {
	var vm *armcompute.VirtualMachine
	pager := client.NewListAllPager(nil)
	for pager.More() && vm == nil {
		page, err := pager.NextPage(ctx)
		if err != nil {
			details["error"] = err.Error()
			return
		}
		for _, candidate := range page.Value {
			if deref(candidate.Name) == name {
				vm = candidate
				break
			}
		}
	}
	if vm == nil {
		return
	}

	resourceGroup := resourceGroupFromID(deref(vm.ID))
	record := map[string]interface{}{
		"id":             deref(vm.ID),
		"name":           deref(vm.Name),
		"location":       deref(vm.Location),
		"resource_group": resourceGroup,
		"tags":           tagsToMap(vm.Tags),
	}
	if vm.Properties != nil && vm.Properties.HardwareProfile != nil && vm.Properties.HardwareProfile.VMSize != nil {
		record["size"] = string(*vm.Properties.HardwareProfile.VMSize)
	}
	details["vm"] = record

	if vm.Properties != nil && vm.Properties.StorageProfile != nil {
		profile := vm.Properties.StorageProfile
		if profile.OSDisk != nil {
			osDisk := map[string]interface{}{"name": deref(profile.OSDisk.Name)}
			if profile.OSDisk.DiskSizeGB != nil {
				osDisk["size_gb"] = int(*profile.OSDisk.DiskSizeGB)
			}
			if profile.OSDisk.OSType != nil {
				osDisk["os_type"] = string(*profile.OSDisk.OSType)
			}
			details["os_disk"] = osDisk
		}
		dataDisks := []map[string]interface{}{}
		for _, disk := range profile.DataDisks {
			record := map[string]interface{}{"name": deref(disk.Name)}
			if disk.DiskSizeGB != nil {
				record["size_gb"] = int(*disk.DiskSizeGB)
			}
			if disk.Lun != nil {
				record["lun"] = int(*disk.Lun)
			}
			dataDisks = append(dataDisks, record)
		}
		details["data_disks"] = dataDisks
	}

	view, err := client.InstanceView(ctx, resourceGroup, name, nil)
	if err == nil {
		statuses := []map[string]interface{}{}
		for _, status := range view.Statuses {
			statuses = append(statuses, map[string]interface{}{
				"code":    deref(status.Code),
				"display": deref(status.DisplayStatus),
			})
		}
		details["statuses"] = statuses
	}
}

func (f *Fetcher) diskDetails(ctx context.Context, client *armcompute.DisksClient, name string, details map[string]interface{}) {
	pager := client.NewListPager(nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			details["error"] = err.Error()
			return
		}
		for _, disk := range page.Value {
			if deref(disk.Name) != name {
				continue
			}
			record := map[string]interface{}{
				"id":             deref(disk.ID),
				"name":           deref(disk.Name),
				"location":       deref(disk.Location),
				"resource_group": resourceGroupFromID(deref(disk.ID)),
				"attached":       disk.ManagedBy != nil && *disk.ManagedBy != "",
				"tags":           tagsToMap(disk.Tags),
			}
			if disk.Properties != nil {
				if disk.Properties.DiskSizeGB != nil {
					record["size_gb"] = int(*disk.Properties.DiskSizeGB)
				}
				if disk.Properties.DiskState != nil {
					record["state"] = string(*disk.Properties.DiskState)
				}
			}
			details["disk"] = record
			return
		}
	}
}

// resourceGroupFromID extracts the resource group segment of an ARM ID,
// "/subscriptions/<sub>/resourceGroups/<group>/..."
func resourceGroupFromID(id string) string {
	parts := strings.Split(id, "/")
	if len(parts) > 4 {
		return parts[4]
	}
	return ""
}
