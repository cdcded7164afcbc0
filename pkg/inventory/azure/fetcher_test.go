package azure

import (
	"context"
	"os"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/compute/armcompute/v2"
	"github.com/stretchr/testify/assert"

	"github.com/platinummonkey/cloudscope/pkg/observability"
)

func newTestFetcher() *Fetcher {
	return New(observability.NewLogger(observability.ErrorLevel, os.Stderr), nil)
}

func TestFetchMissingCredentials(t *testing.T) {
	fetcher := newTestFetcher()

	result := fetcher.Fetch(context.Background(), 1, map[string]interface{}{
		"tenantId": "t", "clientId": "c",
	})

	assert.Equal(t, "Incomplete Azure credentials", result.Error)
	assert.Empty(t, result.Resources["compute"]["virtual_machines"])
	assert.Empty(t, result.Resources["storage"]["storage_accounts"])
}

func TestFetchDetailsMissingCredentials(t *testing.T) {
	fetcher := newTestFetcher()

	details := fetcher.FetchDetails(context.Background(), map[string]interface{}{}, "vm", "web-01")
	assert.Equal(t, map[string]interface{}{"error": "Incomplete Azure credentials"}, details)
}

func TestVMPowerState(t *testing.T) {
	vm := &armcompute.VirtualMachine{
		Properties: &armcompute.VirtualMachineProperties{
			InstanceView: &armcompute.VirtualMachineInstanceView{
				Statuses: []*armcompute.InstanceViewStatus{
					{Code: to.Ptr("ProvisioningState/succeeded")},
					{Code: to.Ptr("PowerState/deallocated")},
				},
			},
		},
	}
	assert.Equal(t, "deallocated", vmPowerState(vm))
	assert.Equal(t, "unknown", vmPowerState(&armcompute.VirtualMachine{}))
}

func TestResourceGroupFromID(t *testing.T) {
	id := "/subscriptions/sub-1/resourceGroups/prod-rg/providers/Microsoft.Compute/virtualMachines/web-01"
	assert.Equal(t, "prod-rg", resourceGroupFromID(id))
	assert.Equal(t, "", resourceGroupFromID("web-01"))
}

func TestIsWorldOpen(t *testing.T) {
	assert.True(t, isWorldOpen("*"))
	assert.True(t, isWorldOpen("0.0.0.0/0"))
	assert.True(t, isWorldOpen("Internet"))
	assert.False(t, isWorldOpen("10.0.0.0/8"))
}

func TestTagsToMap(t *testing.T) {
	tags := map[string]*string{"env": to.Ptr("prod"), "owner": nil}
	assert.Equal(t, map[string]string{"env": "prod", "owner": ""}, tagsToMap(tags))
}
