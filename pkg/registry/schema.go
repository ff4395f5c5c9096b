package registry

// PolicyFile is the on-disk role notification policy.
type PolicyFile struct {
	Version     string              `json:"version"`
	LastUpdated string              `json:"lastUpdated,omitempty"`
	Roles       map[string][]string `json:"roles"`
}
