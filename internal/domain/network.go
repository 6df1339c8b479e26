package domain

import "slices"

// Network is any CloudStack network visible to the panel.
type Network struct {
	Meta
	Name                string `json:"name"`
	DisplayText         string `json:"display_text,omitempty"`
	State               string `json:"state,omitempty"`
	TrafficType         string `json:"traffic_type,omitempty"`
	Type                string `json:"type,omitempty"`
	CIDR                string `json:"cidr,omitempty"`
	Gateway             string `json:"gateway,omitempty"`
	Netmask             string `json:"netmask,omitempty"`
	Account             string `json:"account,omitempty"`
	ZoneUUID            string `json:"zone_uuid,omitempty"`
	ZoneID              int64  `json:"zone_id,omitempty"`
	NetworkOfferingUUID string `json:"network_offering_uuid,omitempty"`
	NetworkOfferingID   int64  `json:"network_offering_id,omitempty"`
	PhysicalNetworkUUID string `json:"physical_network_uuid,omitempty"`
	PhysicalNetworkID   int64  `json:"physical_network_id,omitempty"`
	DomainUUID          string `json:"domain_uuid,omitempty"`
	DomainID            int64  `json:"domain_id,omitempty"`
	VpcUUID             string `json:"vpc_uuid,omitempty"`
}

func (n *Network) Kind() Kind           { return KindNetwork }
func (n *Network) SearchText() []string { return []string{n.Name, n.DisplayText, n.CIDR} }

func (n *Network) References() []Reference {
	return []Reference{
		{Kind: KindZone, Key: n.ZoneUUID, Target: &n.ZoneID},
		{Kind: KindNetworkOffering, Key: n.NetworkOfferingUUID, Target: &n.NetworkOfferingID},
		{Kind: KindPhysicalNetwork, Key: n.PhysicalNetworkUUID, Target: &n.PhysicalNetworkID},
		{Kind: KindDomain, Key: n.DomainUUID, Target: &n.DomainID},
	}
}

// GuestNetwork is a network carrying guest traffic, with its guest addressing details.
type GuestNetwork struct {
	Meta
	Name                string `json:"name"`
	DisplayText         string `json:"display_text,omitempty"`
	GuestIPType         string `json:"guest_ip_type,omitempty"` // Isolated, Shared, L2
	State               string `json:"state,omitempty"`
	VLAN                string `json:"vlan,omitempty"`
	NetworkDomain       string `json:"network_domain,omitempty"`
	ACLType             string `json:"acl_type,omitempty"`
	CIDR                string `json:"cidr,omitempty"`
	Gateway             string `json:"gateway,omitempty"`
	Persistent          bool   `json:"persistent"`
	ZoneUUID            string `json:"zone_uuid,omitempty"`
	ZoneID              int64  `json:"zone_id,omitempty"`
	NetworkOfferingUUID string `json:"network_offering_uuid,omitempty"`
	NetworkOfferingID   int64  `json:"network_offering_id,omitempty"`
}

func (g *GuestNetwork) Kind() Kind           { return KindGuestNetwork }
func (g *GuestNetwork) SearchText() []string { return []string{g.Name, g.DisplayText, g.CIDR} }

func (g *GuestNetwork) References() []Reference {
	return []Reference{
		{Kind: KindZone, Key: g.ZoneUUID, Target: &g.ZoneID},
		{Kind: KindNetworkOffering, Key: g.NetworkOfferingUUID, Target: &g.NetworkOfferingID},
	}
}

// NetworkOffering is a CloudStack network offering.
type NetworkOffering struct {
	Meta
	Name         string `json:"name"`
	DisplayText  string `json:"display_text,omitempty"`
	GuestIPType  string `json:"guest_ip_type,omitempty"`
	TrafficType  string `json:"traffic_type,omitempty"`
	State        string `json:"state,omitempty"`
	Availability string `json:"availability,omitempty"`
	IsDefault    bool   `json:"is_default"`
	SpecifyVLAN  bool   `json:"specify_vlan"`
	ConserveMode bool   `json:"conserve_mode"`
	ForVPC       bool   `json:"for_vpc"`
	NetworkRate  int64  `json:"network_rate,omitempty"` // Mbps, -1 for unlimited
}

func (o *NetworkOffering) Kind() Kind           { return KindNetworkOffering }
func (o *NetworkOffering) SearchText() []string { return []string{o.Name, o.DisplayText} }

// NetworkServiceProvider is a provider enabled on a physical network.
type NetworkServiceProvider struct {
	Meta
	Name                       string   `json:"name"`
	State                      string   `json:"state,omitempty"`
	ServiceList                []string `json:"service_list,omitempty"`
	CanEnableIndividualService bool     `json:"can_enable_individual_service"`
	PhysicalNetworkUUID        string   `json:"physical_network_uuid,omitempty"`
	PhysicalNetworkID          int64    `json:"physical_network_id,omitempty"`
}

func (p *NetworkServiceProvider) Kind() Kind           { return KindNetworkServiceProvider }
func (p *NetworkServiceProvider) SearchText() []string { return []string{p.Name} }

func (p *NetworkServiceProvider) References() []Reference {
	return []Reference{{Kind: KindPhysicalNetwork, Key: p.PhysicalNetworkUUID, Target: &p.PhysicalNetworkID}}
}

func (p *NetworkServiceProvider) CloneSlices() { p.ServiceList = slices.Clone(p.ServiceList) }

// SupportedNetwork is a network service and the providers able to deliver it.
// CloudStack does not assign ids to services, so the service name is the key.
type SupportedNetwork struct {
	Meta
	Name      string   `json:"name"`
	Providers []string `json:"providers,omitempty"`
}

func (s *SupportedNetwork) Kind() Kind           { return KindSupportedNetwork }
func (s *SupportedNetwork) Key() string          { return s.Name }
func (s *SupportedNetwork) SearchText() []string { return []string{s.Name} }

func (s *SupportedNetwork) CloneSlices() { s.Providers = slices.Clone(s.Providers) }

// VpcOffering is a CloudStack VPC offering.
type VpcOffering struct {
	Meta
	Name                 string `json:"name"`
	DisplayText          string `json:"display_text,omitempty"`
	State                string `json:"state,omitempty"`
	IsDefault            bool   `json:"is_default"`
	DistributedVPCRouter bool   `json:"distributed_vpc_router"`
}

func (o *VpcOffering) Kind() Kind           { return KindVpcOffering }
func (o *VpcOffering) SearchText() []string { return []string{o.Name, o.DisplayText} }

// VpcAcl is a network ACL list attached to a VPC.
type VpcAcl struct {
	Meta
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	VpcUUID     string `json:"vpc_uuid,omitempty"`
}

func (a *VpcAcl) Kind() Kind           { return KindVpcAcl }
func (a *VpcAcl) SearchText() []string { return []string{a.Name, a.Description} }

// PhysicalNetwork is a zone-level physical network.
type PhysicalNetwork struct {
	Meta
	Name                 string   `json:"name"`
	State                string   `json:"state,omitempty"`
	VLAN                 string   `json:"vlan,omitempty"`
	BroadcastDomainRange string   `json:"broadcast_domain_range,omitempty"`
	IsolationMethods     []string `json:"isolation_methods,omitempty"`
	NetworkSpeed         string   `json:"network_speed,omitempty"`
	ZoneUUID             string   `json:"zone_uuid,omitempty"`
	ZoneID               int64    `json:"zone_id,omitempty"`
}

func (p *PhysicalNetwork) Kind() Kind           { return KindPhysicalNetwork }
func (p *PhysicalNetwork) SearchText() []string { return []string{p.Name} }

func (p *PhysicalNetwork) References() []Reference {
	return []Reference{{Kind: KindZone, Key: p.ZoneUUID, Target: &p.ZoneID}}
}

func (p *PhysicalNetwork) CloneSlices() { p.IsolationMethods = slices.Clone(p.IsolationMethods) }
