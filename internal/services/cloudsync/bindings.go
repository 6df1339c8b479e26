// Package cloudsync mirrors CloudStack inventory into the local repositories.
package cloudsync

import (
	simplejson "github.com/bitly/go-simplejson"

	"github.com/stackpanel/stackpanel/internal/cloudstack"
	"github.com/stackpanel/stackpanel/internal/domain"
)

// Binding ties a kind to the CloudStack list command that produces it.
type Binding struct {
	Kind    domain.Kind
	Command string
	Params  cloudstack.Params
	// Unpaged commands ignore page and pagesize.
	Unpaged bool
	// AppendOnly kinds are never deactivated when missing from the remote listing.
	AppendOnly bool
	Convert    func(items []*simplejson.Json) (map[string]domain.Entity, []*domain.ConversionError, error)
}

func bind[E domain.Entity](kind domain.Kind, command string, convert cloudstack.Converter[E]) Binding {
	return Binding{
		Kind:    kind,
		Command: command,
		Convert: func(items []*simplejson.Json) (map[string]domain.Entity, []*domain.ConversionError, error) {
			index, failures, err := cloudstack.ConvertList(items, convert)
			if err != nil {
				return nil, nil, err
			}
			out := make(map[string]domain.Entity, len(index))
			for key, e := range index {
				out[key] = e
			}
			return out, failures, nil
		},
	}
}

func (b Binding) with(params cloudstack.Params) Binding {
	b.Params = params
	return b
}

func (b Binding) unpaged() Binding {
	b.Unpaged = true
	return b
}

func (b Binding) appendOnly() Binding {
	b.AppendOnly = true
	return b
}

// DefaultBindings returns the bindings of every synced kind.
func DefaultBindings() []Binding {
	return []Binding{
		bind(domain.KindRegion, "listRegions", cloudstack.ConvertRegion),
		bind(domain.KindZone, "listZones", cloudstack.ConvertZone),
		bind(domain.KindPod, "listPods", cloudstack.ConvertPod),
		bind(domain.KindCluster, "listClusters", cloudstack.ConvertCluster),
		bind(domain.KindHost, "listHosts", cloudstack.ConvertHost).with(cloudstack.Params{"type": "Routing"}),
		bind(domain.KindDomain, "listDomains", cloudstack.ConvertDomain),
		bind(domain.KindProject, "listProjects", cloudstack.ConvertProject),
		bind(domain.KindUser, "listUsers", cloudstack.ConvertUser),
		bind(domain.KindNetwork, "listNetworks", cloudstack.ConvertNetwork),
		bind(domain.KindGuestNetwork, "listNetworks", cloudstack.ConvertGuestNetwork).with(cloudstack.Params{"traffictype": "Guest"}),
		bind(domain.KindNetworkOffering, "listNetworkOfferings", cloudstack.ConvertNetworkOffering),
		bind(domain.KindNetworkServiceProvider, "listNetworkServiceProviders", cloudstack.ConvertNetworkServiceProvider),
		bind(domain.KindSupportedNetwork, "listSupportedNetworkServices", cloudstack.ConvertSupportedNetwork).unpaged(),
		bind(domain.KindVpcOffering, "listVPCOfferings", cloudstack.ConvertVpcOffering),
		bind(domain.KindVpcAcl, "listNetworkACLLists", cloudstack.ConvertVpcAcl),
		bind(domain.KindPhysicalNetwork, "listPhysicalNetworks", cloudstack.ConvertPhysicalNetwork),
		bind(domain.KindOsCategory, "listOsCategories", cloudstack.ConvertOsCategory),
		bind(domain.KindOsType, "listOsTypes", cloudstack.ConvertOsType),
		bind(domain.KindTemplate, "listTemplates", cloudstack.ConvertTemplate).with(cloudstack.Params{"templatefilter": "all"}),
		bind(domain.KindHypervisor, "listHypervisors", cloudstack.ConvertHypervisor).unpaged(),
		bind(domain.KindEvent, "listEvents", cloudstack.ConvertEvent).appendOnly(),
		bind(domain.KindEventLiteral, "listEventTypes", cloudstack.ConvertEventLiteral).unpaged(),
	}
}

// Tiers orders synced kinds so that every parent kind is written before its children.
// Kinds within a tier do not reference each other and may run concurrently.
var Tiers = [][]domain.Kind{
	{
		domain.KindRegion, domain.KindDomain, domain.KindNetworkOffering, domain.KindVpcOffering,
		domain.KindOsCategory, domain.KindHypervisor, domain.KindEventLiteral,
	},
	{domain.KindZone, domain.KindOsType, domain.KindUser, domain.KindProject, domain.KindEvent},
	{domain.KindPod, domain.KindPhysicalNetwork, domain.KindTemplate, domain.KindGuestNetwork},
	{
		domain.KindCluster, domain.KindNetworkServiceProvider, domain.KindNetwork,
		domain.KindVpcAcl, domain.KindSupportedNetwork,
	},
	{domain.KindHost},
}
