package domain

import (
	"context"
	"time"
)

// Kind names an entity type. It doubles as the resource segment of the REST API.
type Kind string

const (
	KindRegion                 Kind = "region"
	KindZone                   Kind = "zone"
	KindPod                    Kind = "pod"
	KindCluster                Kind = "cluster"
	KindHost                   Kind = "host"
	KindDomain                 Kind = "domain"
	KindProject                Kind = "project"
	KindDepartment             Kind = "department"
	KindRole                   Kind = "role"
	KindPermission             Kind = "permission"
	KindUser                   Kind = "user"
	KindApplication            Kind = "application"
	KindNetwork                Kind = "network"
	KindGuestNetwork           Kind = "guest_network"
	KindNetworkOffering        Kind = "network_offering"
	KindNetworkServiceProvider Kind = "network_service_provider"
	KindSupportedNetwork       Kind = "supported_network"
	KindVpcOffering            Kind = "vpc_offering"
	KindVpcAcl                 Kind = "vpc_acl"
	KindPhysicalNetwork        Kind = "physical_network"
	KindItem                   Kind = "item"
	KindTax                    Kind = "tax"
	KindComputeOfferingCost    Kind = "compute_offering_cost"
	KindStorageOfferingCost    Kind = "storage_offering_cost"
	KindMiscellaneousCost      Kind = "miscellaneous_cost"
	KindOsCategory             Kind = "os_category"
	KindOsType                 Kind = "os_type"
	KindTemplate               Kind = "template"
	KindHypervisor             Kind = "hypervisor"
	KindEvent                  Kind = "event"
	KindEventLiteral           Kind = "event_literal"
	KindLoginHistory           Kind = "login_history"
	KindLoginSecurityTrack     Kind = "login_security_track"
	KindManualCloudSync        Kind = "manual_cloud_sync"
)

// AllKinds lists every persisted kind in schema order.
var AllKinds = []Kind{
	KindRegion, KindZone, KindPod, KindCluster, KindHost,
	KindDomain, KindProject, KindDepartment, KindRole, KindPermission, KindUser, KindApplication,
	KindNetwork, KindGuestNetwork, KindNetworkOffering, KindNetworkServiceProvider,
	KindSupportedNetwork, KindVpcOffering, KindVpcAcl, KindPhysicalNetwork,
	KindItem, KindTax, KindComputeOfferingCost, KindStorageOfferingCost, KindMiscellaneousCost,
	KindOsCategory, KindOsType, KindTemplate, KindHypervisor,
	KindEvent, KindEventLiteral, KindLoginHistory, KindLoginSecurityTrack, KindManualCloudSync,
}

// RecordStatus distinguishes live rows from soft-deleted ones. Rows are never hard-deleted.
type RecordStatus string

const (
	StatusActive   RecordStatus = "ACTIVE"
	StatusInactive RecordStatus = "INACTIVE"
)

// Meta holds the identity, optimistic-locking and audit columns shared by every entity.
type Meta struct {
	ID        int64        `json:"id"`
	UUID      string       `json:"uuid,omitempty"`
	Status    RecordStatus `json:"status"`
	Version   int64        `json:"version"`
	CreatedBy int64        `json:"created_by,omitempty"`
	UpdatedBy int64        `json:"updated_by,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// GetMeta returns the embedded metadata.
func (m *Meta) GetMeta() *Meta { return m }

// Key returns the external identity used to match local rows with CloudStack records.
func (m *Meta) Key() string { return m.UUID }

// IsActive reports whether the row is live.
func (m *Meta) IsActive() bool { return m.Status == StatusActive }

// Entity is implemented by every persisted type through an embedded *Meta receiver.
type Entity interface {
	GetMeta() *Meta
	Kind() Kind
	Key() string
	SearchText() []string
}

// EntityPtr constrains a type parameter to the pointer form of an entity struct.
type EntityPtr[T any] interface {
	*T
	Entity
}

// Reference is a parent link carried by uuid in CloudStack payloads and by local id in storage.
type Reference struct {
	Kind   Kind
	Key    string
	Target *int64
}

// Referrer is implemented by entities whose parent ids are resolved from uuids during sync.
type Referrer interface {
	References() []Reference
}

// LocalFieldKeeper copies locally owned fields from the stored row onto a fresh remote copy.
type LocalFieldKeeper interface {
	KeepLocalFields(stored Entity)
}

// LocalOnly is implemented by kinds that mix mirrored rows with rows created in the panel.
// Sync never deactivates a local row.
type LocalOnly interface {
	IsLocal() bool
}

// SystemManaged marks kinds written only by the panel itself (sync, login bookkeeping).
// Clients can read them but never create, change or deactivate them.
type SystemManaged interface {
	SystemManaged()
}

// SliceCloner deep-copies slice and map fields after a shallow struct copy.
type SliceCloner interface {
	CloneSlices()
}

// Redactor returns the API representation of an entity with secrets removed.
type Redactor interface {
	Redacted() any
}

// SecretKeeper is implemented by kinds whose secrets are never written through the generic API.
// KeepSecrets copies them from stored, or clears them when stored is nil.
type SecretKeeper interface {
	KeepSecrets(stored Entity)
}

// Clone copies e so the copy can be mutated independently.
func Clone[T any, PT EntityPtr[T]](e PT) PT {
	if e == nil {
		return nil
	}
	c := PT(new(T))
	*c = *e
	if sc, ok := any(c).(SliceCloner); ok {
		sc.CloneSlices()
	}
	return c
}

// Index builds the uuid-keyed lookup of a batch of records. Later duplicates replace earlier ones.
func Index[E Entity](items []E) map[string]E {
	index := make(map[string]E, len(items))
	for _, item := range items {
		index[item.Key()] = item
	}
	return index
}

// ListFilter narrows List results. Without IncludeInactive only ACTIVE rows are returned.
type ListFilter struct {
	Search          string
	IncludeInactive bool
}

// Page selects a window of an id-ordered listing. Limit 0 means unbounded.
type Page struct {
	Limit  int
	Offset int
}

// Repository persists one entity kind.
// Update only succeeds when the stored version equals e's version and stores version+1.
type Repository[E Entity] interface {
	Create(ctx context.Context, e E) (E, error)
	Get(ctx context.Context, id int64) (E, error)
	GetByKey(ctx context.Context, key string) (E, error)
	List(ctx context.Context, filter ListFilter, page Page) ([]E, int64, error)
	Update(ctx context.Context, e E) (E, error)
}

type actorKey struct{}

// SystemActor is the audit identity of unattended writes such as sync passes.
const SystemActor int64 = 0

// WithActor attaches the acting user's id for audit stamping.
func WithActor(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, actorKey{}, userID)
}

// ActorFromContext returns the acting user's id, or SystemActor.
func ActorFromContext(ctx context.Context) int64 {
	if id, ok := ctx.Value(actorKey{}).(int64); ok {
		return id
	}
	return SystemActor
}
