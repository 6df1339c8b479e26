package main

import (
	"go.uber.org/zap"

	"github.com/stackpanel/stackpanel/internal/domain"
	"github.com/stackpanel/stackpanel/internal/repository/memory"
	"github.com/stackpanel/stackpanel/internal/repository/postgres"
	"github.com/stackpanel/stackpanel/internal/services/inventory"
)

// stores holds the services other components need typed access to.
type stores struct {
	users   *inventory.Service[domain.User, *domain.User]
	history *inventory.Service[domain.LoginHistory, *domain.LoginHistory]
	tracks  *inventory.Service[domain.LoginSecurityTrack, *domain.LoginSecurityTrack]
	syncs   *inventory.Service[domain.ManualCloudSync, *domain.ManualCloudSync]
}

type backend struct {
	reg    *inventory.Registry
	db     *postgres.DB
	cache  inventory.Cache
	logger *zap.Logger
}

// register builds the service for one kind on PostgreSQL, or in memory when db is nil.
func register[T any, PT domain.EntityPtr[T]](b backend) *inventory.Service[T, PT] {
	var repo domain.Repository[PT]
	if b.db != nil {
		repo = postgres.NewStore[T, PT](b.db, PT(new(T)).Kind(), b.logger)
	} else {
		repo = memory.NewStore[T, PT]()
	}
	svc := inventory.NewService[T, PT](repo, b.cache, b.logger)
	b.reg.Register(svc.Resource())
	return svc
}

// newStores registers every kind with reg.
func newStores(reg *inventory.Registry, db *postgres.DB, cache inventory.Cache, logger *zap.Logger) stores {
	b := backend{reg: reg, db: db, cache: cache, logger: logger}

	// Infrastructure
	register[domain.Region](b)
	register[domain.Zone](b)
	register[domain.Pod](b)
	register[domain.Cluster](b)
	register[domain.Host](b)

	// Access
	register[domain.Domain](b)
	register[domain.Project](b)
	register[domain.Department](b)
	register[domain.Role](b)
	register[domain.Permission](b)
	register[domain.Application](b)

	// Network
	register[domain.Network](b)
	register[domain.GuestNetwork](b)
	register[domain.NetworkOffering](b)
	register[domain.NetworkServiceProvider](b)
	register[domain.SupportedNetwork](b)
	register[domain.VpcOffering](b)
	register[domain.VpcAcl](b)
	register[domain.PhysicalNetwork](b)

	// Billing
	register[domain.Item](b)
	register[domain.Tax](b)
	register[domain.ComputeOfferingCost](b)
	register[domain.StorageOfferingCost](b)
	register[domain.MiscellaneousCost](b)

	// Templates
	register[domain.OsCategory](b)
	register[domain.OsType](b)
	register[domain.Template](b)
	register[domain.Hypervisor](b)

	// Audit
	register[domain.Event](b)
	register[domain.EventLiteral](b)

	return stores{
		users:   register[domain.User](b),
		history: register[domain.LoginHistory](b),
		tracks:  register[domain.LoginSecurityTrack](b),
		syncs:   register[domain.ManualCloudSync](b),
	}
}
