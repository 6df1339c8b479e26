package domain

// Region is the top of the CloudStack placement hierarchy.
type Region struct {
	Meta
	Name     string `json:"name"`
	Endpoint string `json:"endpoint,omitempty"`
}

func (r *Region) Kind() Kind           { return KindRegion }
func (r *Region) SearchText() []string { return []string{r.Name} }

// Zone is a CloudStack availability zone.
type Zone struct {
	Meta
	Name                  string `json:"name"`
	Description           string `json:"description,omitempty"`
	NetworkType           string `json:"network_type,omitempty"` // Basic or Advanced
	AllocationState       string `json:"allocation_state,omitempty"`
	DNS1                  string `json:"dns1,omitempty"`
	DNS2                  string `json:"dns2,omitempty"`
	InternalDNS1          string `json:"internal_dns1,omitempty"`
	GuestCIDRAddress      string `json:"guest_cidr_address,omitempty"`
	SecurityGroupsEnabled bool   `json:"security_groups_enabled"`
	LocalStorageEnabled   bool   `json:"local_storage_enabled"`
	DomainUUID            string `json:"domain_uuid,omitempty"`
	DomainID              int64  `json:"domain_id,omitempty"`
}

func (z *Zone) Kind() Kind           { return KindZone }
func (z *Zone) SearchText() []string { return []string{z.Name, z.Description} }

func (z *Zone) References() []Reference {
	return []Reference{{Kind: KindDomain, Key: z.DomainUUID, Target: &z.DomainID}}
}

// Pod is a rack-level grouping inside a zone.
type Pod struct {
	Meta
	Name            string `json:"name"`
	Gateway         string `json:"gateway,omitempty"`
	Netmask         string `json:"netmask,omitempty"`
	StartIP         string `json:"start_ip,omitempty"`
	EndIP           string `json:"end_ip,omitempty"`
	AllocationState string `json:"allocation_state,omitempty"`
	ZoneUUID        string `json:"zone_uuid,omitempty"`
	ZoneID          int64  `json:"zone_id,omitempty"`
}

func (p *Pod) Kind() Kind           { return KindPod }
func (p *Pod) SearchText() []string { return []string{p.Name} }

func (p *Pod) References() []Reference {
	return []Reference{{Kind: KindZone, Key: p.ZoneUUID, Target: &p.ZoneID}}
}

// Cluster groups hosts of one hypervisor type inside a pod.
type Cluster struct {
	Meta
	Name            string `json:"name"`
	HypervisorType  string `json:"hypervisor_type,omitempty"`
	ClusterType     string `json:"cluster_type,omitempty"`
	AllocationState string `json:"allocation_state,omitempty"`
	ManagedState    string `json:"managed_state,omitempty"`
	PodUUID         string `json:"pod_uuid,omitempty"`
	PodID           int64  `json:"pod_id,omitempty"`
	ZoneUUID        string `json:"zone_uuid,omitempty"`
	ZoneID          int64  `json:"zone_id,omitempty"`
}

func (c *Cluster) Kind() Kind           { return KindCluster }
func (c *Cluster) SearchText() []string { return []string{c.Name, c.HypervisorType} }

func (c *Cluster) References() []Reference {
	return []Reference{
		{Kind: KindPod, Key: c.PodUUID, Target: &c.PodID},
		{Kind: KindZone, Key: c.ZoneUUID, Target: &c.ZoneID},
	}
}

// Host is a hypervisor or system host managed by CloudStack.
type Host struct {
	Meta
	Name          string `json:"name"`
	Type          string `json:"type,omitempty"` // Routing, SecondaryStorage, ...
	State         string `json:"state,omitempty"`
	ResourceState string `json:"resource_state,omitempty"`
	IPAddress     string `json:"ip_address,omitempty"`
	Hypervisor    string `json:"hypervisor,omitempty"`
	HostVersion   string `json:"host_version,omitempty"`
	CPUNumber     int64  `json:"cpu_number,omitempty"`
	CPUSpeed      int64  `json:"cpu_speed,omitempty"` // MHz
	MemoryTotal   int64  `json:"memory_total,omitempty"`
	PodUUID       string `json:"pod_uuid,omitempty"`
	PodID         int64  `json:"pod_id,omitempty"`
	ZoneUUID      string `json:"zone_uuid,omitempty"`
	ZoneID        int64  `json:"zone_id,omitempty"`
	ClusterUUID   string `json:"cluster_uuid,omitempty"`
	ClusterID     int64  `json:"cluster_id,omitempty"`
}

func (h *Host) Kind() Kind           { return KindHost }
func (h *Host) SearchText() []string { return []string{h.Name, h.IPAddress} }

func (h *Host) References() []Reference {
	return []Reference{
		{Kind: KindPod, Key: h.PodUUID, Target: &h.PodID},
		{Kind: KindZone, Key: h.ZoneUUID, Target: &h.ZoneID},
		{Kind: KindCluster, Key: h.ClusterUUID, Target: &h.ClusterID},
	}
}
