package cloudstack

import (
	simplejson "github.com/bitly/go-simplejson"

	"github.com/stackpanel/stackpanel/internal/domain"
)

// ConvertNetwork maps a listNetworks record.
func ConvertNetwork(js *simplejson.Json) (*domain.Network, error) {
	r := newReader(domain.KindNetwork, js)
	e := &domain.Network{}
	e.UUID = r.identity("id")
	e.Name = r.required("name")
	e.DisplayText = r.string("displaytext")
	e.ZoneUUID = r.string("zoneid")
	e.NetworkOfferingUUID = r.string("networkofferingid")
	e.PhysicalNetworkUUID = r.string("physicalnetworkid")
	e.VpcUUID = r.string("vpcid")
	e.DomainUUID = r.string("domainid")
	e.Account = r.string("account")
	e.State = r.string("state")
	e.TrafficType = r.string("traffictype")
	e.Type = r.string("type")
	e.CIDR = r.string("cidr")
	e.Gateway = r.string("gateway")
	e.Netmask = r.string("netmask")
	if r.err != nil {
		return nil, r.err
	}
	return e, nil
}

// ConvertGuestNetwork maps a listNetworks record of guest traffic type.
func ConvertGuestNetwork(js *simplejson.Json) (*domain.GuestNetwork, error) {
	r := newReader(domain.KindGuestNetwork, js)
	e := &domain.GuestNetwork{}
	e.UUID = r.identity("id")
	e.Name = r.required("name")
	e.DisplayText = r.string("displaytext")
	e.ZoneUUID = r.string("zoneid")
	e.NetworkOfferingUUID = r.string("networkofferingid")
	e.GuestIPType = r.string("guestiptype")
	e.VLAN = r.string("vlan")
	e.NetworkDomain = r.string("networkdomain")
	e.ACLType = r.string("acltype")
	e.State = r.string("state")
	e.CIDR = r.string("cidr")
	e.Gateway = r.string("gateway")
	e.Persistent = r.bool("ispersistent")
	if r.err != nil {
		return nil, r.err
	}
	return e, nil
}

// ConvertNetworkOffering maps a listNetworkOfferings record.
func ConvertNetworkOffering(js *simplejson.Json) (*domain.NetworkOffering, error) {
	r := newReader(domain.KindNetworkOffering, js)
	e := &domain.NetworkOffering{}
	e.UUID = r.identity("id")
	e.Name = r.required("name")
	e.DisplayText = r.string("displaytext")
	e.GuestIPType = r.string("guestiptype")
	e.TrafficType = r.string("traffictype")
	e.State = r.string("state")
	e.IsDefault = r.bool("isdefault")
	e.SpecifyVLAN = r.bool("specifyvlan")
	e.ConserveMode = r.bool("conservemode")
	e.Availability = r.string("availability")
	e.ForVPC = r.bool("forvpc")
	e.NetworkRate = r.int64("networkrate")
	if r.err != nil {
		return nil, r.err
	}
	return e, nil
}

// ConvertNetworkServiceProvider maps a listNetworkServiceProviders record.
func ConvertNetworkServiceProvider(js *simplejson.Json) (*domain.NetworkServiceProvider, error) {
	r := newReader(domain.KindNetworkServiceProvider, js)
	e := &domain.NetworkServiceProvider{}
	e.UUID = r.identity("id")
	e.Name = r.required("name")
	e.PhysicalNetworkUUID = r.string("physicalnetworkid")
	e.State = r.string("state")
	e.ServiceList = r.strings("servicelist")
	e.CanEnableIndividualService = r.bool("canenableindividualservice")
	if r.err != nil {
		return nil, r.err
	}
	return e, nil
}

// ConvertSupportedNetwork maps a listSupportedNetworkServices record. Services
// carry no id, so the name is the key.
func ConvertSupportedNetwork(js *simplejson.Json) (*domain.SupportedNetwork, error) {
	r := newReader(domain.KindSupportedNetwork, js)
	e := &domain.SupportedNetwork{}
	e.Name = r.identity("name")
	e.Providers = r.names("provider")
	if r.err != nil {
		return nil, r.err
	}
	return e, nil
}

// ConvertVpcOffering maps a listVPCOfferings record.
func ConvertVpcOffering(js *simplejson.Json) (*domain.VpcOffering, error) {
	r := newReader(domain.KindVpcOffering, js)
	e := &domain.VpcOffering{}
	e.UUID = r.identity("id")
	e.Name = r.required("name")
	e.DisplayText = r.string("displaytext")
	e.State = r.string("state")
	e.IsDefault = r.bool("isdefault")
	e.DistributedVPCRouter = r.bool("distributedvpcrouter")
	if r.err != nil {
		return nil, r.err
	}
	return e, nil
}

// ConvertVpcAcl maps a listNetworkACLLists record.
func ConvertVpcAcl(js *simplejson.Json) (*domain.VpcAcl, error) {
	r := newReader(domain.KindVpcAcl, js)
	e := &domain.VpcAcl{}
	e.UUID = r.identity("id")
	e.Name = r.required("name")
	e.Description = r.string("description")
	e.VpcUUID = r.string("vpcid")
	if r.err != nil {
		return nil, r.err
	}
	return e, nil
}

// ConvertPhysicalNetwork maps a listPhysicalNetworks record.
func ConvertPhysicalNetwork(js *simplejson.Json) (*domain.PhysicalNetwork, error) {
	r := newReader(domain.KindPhysicalNetwork, js)
	e := &domain.PhysicalNetwork{}
	e.UUID = r.identity("id")
	e.Name = r.required("name")
	e.ZoneUUID = r.string("zoneid")
	e.State = r.string("state")
	e.VLAN = r.string("vlan")
	e.BroadcastDomainRange = r.string("broadcastdomainrange")
	e.IsolationMethods = r.strings("isolationmethods")
	e.NetworkSpeed = r.string("networkspeed")
	if r.err != nil {
		return nil, r.err
	}
	return e, nil
}
