package cloudstack

import (
	simplejson "github.com/bitly/go-simplejson"

	"github.com/stackpanel/stackpanel/internal/domain"
)

// ConvertOsCategory maps a listOsCategories record.
func ConvertOsCategory(js *simplejson.Json) (*domain.OsCategory, error) {
	r := newReader(domain.KindOsCategory, js)
	e := &domain.OsCategory{}
	e.UUID = r.identity("id")
	e.Name = r.required("name")
	if r.err != nil {
		return nil, r.err
	}
	return e, nil
}

// ConvertOsType maps a listOsTypes record.
func ConvertOsType(js *simplejson.Json) (*domain.OsType, error) {
	r := newReader(domain.KindOsType, js)
	e := &domain.OsType{}
	e.UUID = r.identity("id")
	e.Description = r.required("description")
	e.OsCategoryUUID = r.string("oscategoryid")
	e.IsUserDefined = r.bool("isuserdefined")
	if r.err != nil {
		return nil, r.err
	}
	return e, nil
}

// ConvertTemplate maps a listTemplates record.
func ConvertTemplate(js *simplejson.Json) (*domain.Template, error) {
	r := newReader(domain.KindTemplate, js)
	e := &domain.Template{}
	e.UUID = r.identity("id")
	e.Name = r.required("name")
	e.DisplayText = r.string("displaytext")
	e.OsTypeUUID = r.string("ostypeid")
	e.ZoneUUID = r.string("zoneid")
	e.Hypervisor = r.string("hypervisor")
	e.Format = r.string("format")
	e.IsReady = r.bool("isready")
	e.IsPublic = r.bool("ispublic")
	e.IsFeatured = r.bool("isfeatured")
	e.PasswordEnabled = r.bool("passwordenabled")
	e.Size = r.int64("size")
	e.TemplateStatus = r.string("status")
	e.TemplateType = r.string("templatetype")
	if r.err != nil {
		return nil, r.err
	}
	return e, nil
}

// ConvertHypervisor maps a listHypervisors record.
func ConvertHypervisor(js *simplejson.Json) (*domain.Hypervisor, error) {
	r := newReader(domain.KindHypervisor, js)
	e := &domain.Hypervisor{}
	e.Name = r.identity("name")
	if r.err != nil {
		return nil, r.err
	}
	return e, nil
}

// ConvertEvent maps a listEvents record.
func ConvertEvent(js *simplejson.Json) (*domain.Event, error) {
	r := newReader(domain.KindEvent, js)
	e := &domain.Event{}
	e.UUID = r.identity("id")
	e.Type = r.required("type")
	e.Username = r.string("username")
	e.Level = r.string("level")
	e.Description = r.string("description")
	e.Account = r.string("account")
	e.DomainUUID = r.string("domainid")
	e.State = r.string("state")
	e.Created = r.time("created")
	if r.err != nil {
		return nil, r.err
	}
	return e, nil
}

// ConvertEventLiteral maps a listEventTypes record.
func ConvertEventLiteral(js *simplejson.Json) (*domain.EventLiteral, error) {
	r := newReader(domain.KindEventLiteral, js)
	e := &domain.EventLiteral{}
	e.Name = r.identity("name")
	if r.err != nil {
		return nil, r.err
	}
	return e, nil
}
