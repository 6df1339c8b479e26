package domain

import (
	"slices"
	"time"
)

// Domain is a CloudStack tenancy domain. Domains nest through ParentUUID.
type Domain struct {
	Meta
	Name          string `json:"name"`
	Path          string `json:"path,omitempty"`
	Level         int64  `json:"level"`
	NetworkDomain string `json:"network_domain,omitempty"`
	ParentUUID    string `json:"parent_uuid,omitempty"`
	ParentID      int64  `json:"parent_id,omitempty"`
}

func (d *Domain) Kind() Kind           { return KindDomain }
func (d *Domain) SearchText() []string { return []string{d.Name, d.Path} }

func (d *Domain) References() []Reference {
	return []Reference{{Kind: KindDomain, Key: d.ParentUUID, Target: &d.ParentID}}
}

// Project is a CloudStack project. Department and member assignments are managed locally.
type Project struct {
	Meta
	Name          string  `json:"name"`
	DisplayText   string  `json:"display_text,omitempty"`
	State         string  `json:"state,omitempty"`
	DomainUUID    string  `json:"domain_uuid,omitempty"`
	DomainID      int64   `json:"domain_id,omitempty"`
	DepartmentID  int64   `json:"department_id,omitempty"`
	OwnerID       int64   `json:"owner_id,omitempty"`
	UserIDs       []int64 `json:"user_ids,omitempty"`
	DepartmentIDs []int64 `json:"department_ids,omitempty"`
}

func (p *Project) Kind() Kind           { return KindProject }
func (p *Project) SearchText() []string { return []string{p.Name, p.DisplayText} }

func (p *Project) References() []Reference {
	return []Reference{{Kind: KindDomain, Key: p.DomainUUID, Target: &p.DomainID}}
}

func (p *Project) KeepLocalFields(stored Entity) {
	if s, ok := stored.(*Project); ok {
		p.DepartmentID = s.DepartmentID
		p.OwnerID = s.OwnerID
		p.UserIDs = slices.Clone(s.UserIDs)
		p.DepartmentIDs = slices.Clone(s.DepartmentIDs)
	}
}

func (p *Project) CloneSlices() {
	p.UserIDs = slices.Clone(p.UserIDs)
	p.DepartmentIDs = slices.Clone(p.DepartmentIDs)
}

// Department owns roles and users inside a domain.
type Department struct {
	Meta
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Type        string `json:"type,omitempty"`
	DomainID    int64  `json:"domain_id,omitempty"`
}

func (d *Department) Kind() Kind           { return KindDepartment }
func (d *Department) SearchText() []string { return []string{d.Name, d.Description} }

// Role is a named set of permissions scoped to a department.
type Role struct {
	Meta
	Name          string  `json:"name"`
	Description   string  `json:"description,omitempty"`
	DepartmentID  int64   `json:"department_id,omitempty"`
	PermissionIDs []int64 `json:"permission_ids,omitempty"`
}

func (r *Role) Kind() Kind           { return KindRole }
func (r *Role) SearchText() []string { return []string{r.Name, r.Description} }

func (r *Role) CloneSlices() { r.PermissionIDs = slices.Clone(r.PermissionIDs) }

// HasPermission checks if this role grants the permission id.
func (r *Role) HasPermission(id int64) bool {
	return slices.Contains(r.PermissionIDs, id)
}

// Permission is a single grantable action on a module.
type Permission struct {
	Meta
	Name        string `json:"name"`
	Module      string `json:"module"`
	Action      string `json:"action"`
	ActionKey   string `json:"action_key"`
	Description string `json:"description,omitempty"`
}

func (p *Permission) Kind() Kind           { return KindPermission }
func (p *Permission) SearchText() []string { return []string{p.Name, p.Module, p.ActionKey} }

// User is a panel user mirrored from a CloudStack account user, or a local user.
// PasswordHash, DepartmentID and RoleID are owned locally and survive sync.
type User struct {
	Meta
	Username     string     `json:"username"`
	FirstName    string     `json:"first_name,omitempty"`
	LastName     string     `json:"last_name,omitempty"`
	Email        string     `json:"email,omitempty"`
	AccountType  int64      `json:"account_type"`
	State        string     `json:"state,omitempty"`
	DomainUUID   string     `json:"domain_uuid,omitempty"`
	DomainID     int64      `json:"domain_id,omitempty"`
	DepartmentID int64      `json:"department_id,omitempty"`
	RoleID       int64      `json:"role_id,omitempty"`
	PasswordHash string     `json:"password_hash,omitempty"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
	Local        bool       `json:"local,omitempty"`
}

func (u *User) Kind() Kind { return KindUser }

func (u *User) SearchText() []string {
	return []string{u.Username, u.FirstName, u.LastName, u.Email}
}

func (u *User) References() []Reference {
	return []Reference{{Kind: KindDomain, Key: u.DomainUUID, Target: &u.DomainID}}
}

func (u *User) KeepLocalFields(stored Entity) {
	if s, ok := stored.(*User); ok {
		u.DepartmentID = s.DepartmentID
		u.RoleID = s.RoleID
		u.PasswordHash = s.PasswordHash
		u.LastLoginAt = s.LastLoginAt
	}
}

// IsLocal reports whether the user was created in the panel rather than mirrored from CloudStack.
func (u *User) IsLocal() bool { return u.Local }

func (u *User) KeepSecrets(stored Entity) {
	u.PasswordHash = ""
	if s, ok := stored.(*User); ok {
		u.PasswordHash = s.PasswordHash
	}
}

func (u *User) Redacted() any {
	c := *u
	c.PasswordHash = ""
	return &c
}

// Application is a registered client of the panel API.
type Application struct {
	Meta
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Type        string `json:"type,omitempty"`
	DomainID    int64  `json:"domain_id,omitempty"`
}

func (a *Application) Kind() Kind           { return KindApplication }
func (a *Application) SearchText() []string { return []string{a.Name} }
