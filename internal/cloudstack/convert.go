package cloudstack

import (
	"errors"

	simplejson "github.com/bitly/go-simplejson"

	"github.com/stackpanel/stackpanel/internal/domain"
)

// Converter maps one CloudStack record onto an entity.
type Converter[E domain.Entity] func(js *simplejson.Json) (E, error)

// ConvertList converts a batch of records and indexes the successes by key,
// last write wins. Records that fail are reported in input order and never
// appear in the index.
func ConvertList[E domain.Entity](items []*simplejson.Json, convert Converter[E]) (map[string]E, []*domain.ConversionError, error) {
	converted := make([]E, 0, len(items))
	var failures []*domain.ConversionError
	for _, item := range items {
		e, err := convert(item)
		if err != nil {
			var convErr *domain.ConversionError
			if !errors.As(err, &convErr) {
				return nil, nil, err
			}
			failures = append(failures, convErr)
			continue
		}
		converted = append(converted, e)
	}
	return domain.Index(converted), failures, nil
}

// ConvertRegion maps a listRegions record.
func ConvertRegion(js *simplejson.Json) (*domain.Region, error) {
	r := newReader(domain.KindRegion, js)
	e := &domain.Region{}
	e.UUID = r.identity("id")
	e.Name = r.required("name")
	e.Endpoint = r.string("endpoint")
	if r.err != nil {
		return nil, r.err
	}
	return e, nil
}

// ConvertZone maps a listZones record.
func ConvertZone(js *simplejson.Json) (*domain.Zone, error) {
	r := newReader(domain.KindZone, js)
	e := &domain.Zone{}
	e.UUID = r.identity("id")
	e.Name = r.required("name")
	e.Description = r.string("description")
	e.NetworkType = r.string("networktype")
	e.AllocationState = r.string("allocationstate")
	e.DNS1 = r.string("dns1")
	e.DNS2 = r.string("dns2")
	e.InternalDNS1 = r.string("internaldns1")
	e.GuestCIDRAddress = r.string("guestcidraddress")
	e.DomainUUID = r.string("domainid")
	e.SecurityGroupsEnabled = r.bool("securitygroupsenabled")
	e.LocalStorageEnabled = r.bool("localstorageenabled")
	if r.err != nil {
		return nil, r.err
	}
	return e, nil
}

// ConvertPod maps a listPods record.
func ConvertPod(js *simplejson.Json) (*domain.Pod, error) {
	r := newReader(domain.KindPod, js)
	e := &domain.Pod{}
	e.UUID = r.identity("id")
	e.Name = r.required("name")
	e.ZoneUUID = r.string("zoneid")
	e.Gateway = r.string("gateway")
	e.Netmask = r.string("netmask")
	e.StartIP = firstOf(r.strings("startip"))
	e.EndIP = firstOf(r.strings("endip"))
	e.AllocationState = r.string("allocationstate")
	if r.err != nil {
		return nil, r.err
	}
	return e, nil
}

// ConvertCluster maps a listClusters record.
func ConvertCluster(js *simplejson.Json) (*domain.Cluster, error) {
	r := newReader(domain.KindCluster, js)
	e := &domain.Cluster{}
	e.UUID = r.identity("id")
	e.Name = r.required("name")
	e.PodUUID = r.string("podid")
	e.ZoneUUID = r.string("zoneid")
	e.HypervisorType = r.string("hypervisortype")
	e.ClusterType = r.string("clustertype")
	e.AllocationState = r.string("allocationstate")
	e.ManagedState = r.string("managedstate")
	if r.err != nil {
		return nil, r.err
	}
	return e, nil
}

// ConvertHost maps a listHosts record.
func ConvertHost(js *simplejson.Json) (*domain.Host, error) {
	r := newReader(domain.KindHost, js)
	e := &domain.Host{}
	e.UUID = r.identity("id")
	e.Name = r.required("name")
	e.Type = r.string("type")
	e.State = r.string("state")
	e.IPAddress = r.string("ipaddress")
	e.Hypervisor = r.string("hypervisor")
	e.PodUUID = r.string("podid")
	e.ZoneUUID = r.string("zoneid")
	e.ClusterUUID = r.string("clusterid")
	e.CPUNumber = r.int64("cpunumber")
	e.CPUSpeed = r.int64("cpuspeed")
	e.MemoryTotal = r.int64("memorytotal")
	e.ResourceState = r.string("resourcestate")
	e.HostVersion = r.string("version")
	if r.err != nil {
		return nil, r.err
	}
	return e, nil
}

// ConvertDomain maps a listDomains record.
func ConvertDomain(js *simplejson.Json) (*domain.Domain, error) {
	r := newReader(domain.KindDomain, js)
	e := &domain.Domain{}
	e.UUID = r.identity("id")
	e.Name = r.required("name")
	e.Path = r.string("path")
	e.ParentUUID = r.string("parentdomainid")
	e.Level = r.int64("level")
	e.NetworkDomain = r.string("networkdomain")
	if r.err != nil {
		return nil, r.err
	}
	return e, nil
}

// ConvertProject maps a listProjects record.
func ConvertProject(js *simplejson.Json) (*domain.Project, error) {
	r := newReader(domain.KindProject, js)
	e := &domain.Project{}
	e.UUID = r.identity("id")
	e.Name = r.required("name")
	e.DisplayText = r.string("displaytext")
	e.DomainUUID = r.string("domainid")
	e.State = r.string("state")
	if r.err != nil {
		return nil, r.err
	}
	return e, nil
}

// ConvertUser maps a listUsers record.
func ConvertUser(js *simplejson.Json) (*domain.User, error) {
	r := newReader(domain.KindUser, js)
	e := &domain.User{}
	e.UUID = r.identity("id")
	e.Username = r.required("username")
	e.FirstName = r.string("firstname")
	e.LastName = r.string("lastname")
	e.Email = r.string("email")
	e.AccountType = r.int64("accounttype")
	e.DomainUUID = r.string("domainid")
	e.State = r.string("state")
	if r.err != nil {
		return nil, r.err
	}
	return e, nil
}

func firstOf(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
