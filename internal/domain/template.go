package domain

// OsCategory groups guest OS types.
type OsCategory struct {
	Meta
	Name string `json:"name"`
}

func (c *OsCategory) Kind() Kind           { return KindOsCategory }
func (c *OsCategory) SearchText() []string { return []string{c.Name} }

// OsType is a guest OS known to CloudStack.
type OsType struct {
	Meta
	Description    string `json:"description"`
	IsUserDefined  bool   `json:"is_user_defined"`
	OsCategoryUUID string `json:"os_category_uuid,omitempty"`
	OsCategoryID   int64  `json:"os_category_id,omitempty"`
}

func (t *OsType) Kind() Kind           { return KindOsType }
func (t *OsType) SearchText() []string { return []string{t.Description} }

func (t *OsType) References() []Reference {
	return []Reference{{Kind: KindOsCategory, Key: t.OsCategoryUUID, Target: &t.OsCategoryID}}
}

// Template is a VM image registered in a zone.
type Template struct {
	Meta
	Name            string `json:"name"`
	DisplayText     string `json:"display_text,omitempty"`
	Hypervisor      string `json:"hypervisor,omitempty"`
	Format          string `json:"format,omitempty"`
	TemplateType    string `json:"template_type,omitempty"`
	TemplateStatus  string `json:"template_status,omitempty"`
	IsReady         bool   `json:"is_ready"`
	IsPublic        bool   `json:"is_public"`
	IsFeatured      bool   `json:"is_featured"`
	PasswordEnabled bool   `json:"password_enabled"`
	Size            int64  `json:"size,omitempty"` // bytes
	OsTypeUUID      string `json:"os_type_uuid,omitempty"`
	OsTypeID        int64  `json:"os_type_id,omitempty"`
	ZoneUUID        string `json:"zone_uuid,omitempty"`
	ZoneID          int64  `json:"zone_id,omitempty"`
}

func (t *Template) Kind() Kind           { return KindTemplate }
func (t *Template) SearchText() []string { return []string{t.Name, t.DisplayText, t.Hypervisor} }

func (t *Template) References() []Reference {
	return []Reference{
		{Kind: KindOsType, Key: t.OsTypeUUID, Target: &t.OsTypeID},
		{Kind: KindZone, Key: t.ZoneUUID, Target: &t.ZoneID},
	}
}

// Hypervisor is a hypervisor type supported by the cloud. Keyed by name.
type Hypervisor struct {
	Meta
	Name string `json:"name"`
}

func (h *Hypervisor) Kind() Kind           { return KindHypervisor }
func (h *Hypervisor) Key() string          { return h.Name }
func (h *Hypervisor) SearchText() []string { return []string{h.Name} }
