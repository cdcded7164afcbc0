package identity

import "fmt"

// ConnectionTest is the outcome of a lightweight credential check
type ConnectionTest struct {
	OK       bool   `json:"ok"`
	Provider string `json:"provider"`
	Details  string `json:"details"`
}

// TestCredentials validates that a client's metadata carries the credential
// fields its provider requires. It never makes an external call.
func TestCredentials(c *Client) ConnectionTest {
	provider := c.ProviderName()

	switch provider {
	case "aws":
		if c.metadataString("clientId") != "" && c.metadataString("clientSecret") != "" {
			return ConnectionTest{OK: true, Provider: provider, Details: "AWS credentials present"}
		}
		return ConnectionTest{OK: false, Provider: provider, Details: "Missing clientId/clientSecret for AWS"}
	case "azure":
		missing := []string{}
		for _, field := range []string{"tenantId", "clientId", "clientSecret", "subscriptionId"} {
			if c.metadataString(field) == "" {
				missing = append(missing, field)
			}
		}
		if len(missing) == 0 {
			return ConnectionTest{OK: true, Provider: provider, Details: "Azure credentials present"}
		}
		return ConnectionTest{OK: false, Provider: provider, Details: fmt.Sprintf("Missing %v for Azure", missing)}
	case "gcp":
		if c.metadataString("projectId") == "" {
			return ConnectionTest{OK: false, Provider: provider, Details: "Missing projectId for GCP"}
		}
		if c.metadataString("serviceAccountJson") == "" {
			return ConnectionTest{OK: false, Provider: provider, Details: "Missing serviceAccountJson for GCP"}
		}
		return ConnectionTest{OK: true, Provider: provider, Details: "GCP credentials present"}
	default:
		return ConnectionTest{OK: false, Provider: provider, Details: "Unknown or unset provider"}
	}
}
