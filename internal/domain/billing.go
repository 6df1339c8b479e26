package domain

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// Item is a billable line item.
type Item struct {
	Meta
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Unit        string          `json:"unit,omitempty"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	TaxID       int64           `json:"tax_id,omitempty"`
}

func (i *Item) Kind() Kind           { return KindItem }
func (i *Item) SearchText() []string { return []string{i.Name, i.Description} }

// Tax is a percentage applied on top of a net amount.
type Tax struct {
	Meta
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Percentage  decimal.Decimal `json:"percentage"`
}

func (t *Tax) Kind() Kind           { return KindTax }
func (t *Tax) SearchText() []string { return []string{t.Name, t.Description} }

// Amount returns the tax due on net, rounded to cents.
func (t *Tax) Amount(net decimal.Decimal) decimal.Decimal {
	return net.Mul(t.Percentage).Div(hundred).Round(2)
}

// Apply returns net plus tax.
func (t *Tax) Apply(net decimal.Decimal) decimal.Decimal {
	return net.Add(t.Amount(net))
}

// ComputeOfferingCost prices a compute offering by vCPU and memory.
type ComputeOfferingCost struct {
	Meta
	Name                string          `json:"name"`
	ComputeOfferingUUID string          `json:"compute_offering_uuid,omitempty"`
	VCPUCost            decimal.Decimal `json:"vcpu_cost"`   // per vCPU hour
	MemoryCost          decimal.Decimal `json:"memory_cost"` // per MB hour
	SetupCost           decimal.Decimal `json:"setup_cost"`
	RunningInstanceCost decimal.Decimal `json:"running_instance_cost"`
	StoppedInstanceCost decimal.Decimal `json:"stopped_instance_cost"`
	TaxID               int64           `json:"tax_id,omitempty"`
}

func (c *ComputeOfferingCost) Kind() Kind           { return KindComputeOfferingCost }
func (c *ComputeOfferingCost) SearchText() []string { return []string{c.Name, c.ComputeOfferingUUID} }

// HourlyCost returns the hourly cost of an instance with the given shape.
// A stopped instance only pays the stopped instance cost.
func (c *ComputeOfferingCost) HourlyCost(vcpus, memoryMB int64, running bool) decimal.Decimal {
	if !running {
		return c.StoppedInstanceCost
	}
	return c.VCPUCost.Mul(decimal.NewFromInt(vcpus)).
		Add(c.MemoryCost.Mul(decimal.NewFromInt(memoryMB))).
		Add(c.RunningInstanceCost)
}

// StorageOfferingCost prices a disk offering by capacity.
type StorageOfferingCost struct {
	Meta
	Name             string          `json:"name"`
	DiskOfferingUUID string          `json:"disk_offering_uuid,omitempty"`
	CostPerGBMonth   decimal.Decimal `json:"cost_per_gb_month"`
	SetupCost        decimal.Decimal `json:"setup_cost"`
	TaxID            int64           `json:"tax_id,omitempty"`
}

func (c *StorageOfferingCost) Kind() Kind           { return KindStorageOfferingCost }
func (c *StorageOfferingCost) SearchText() []string { return []string{c.Name, c.DiskOfferingUUID} }

// MonthlyCost returns the monthly cost of sizeGB of storage.
func (c *StorageOfferingCost) MonthlyCost(sizeGB int64) decimal.Decimal {
	return c.CostPerGBMonth.Mul(decimal.NewFromInt(sizeGB))
}

// MiscellaneousCost is a flat per-unit cost, e.g. public IPs or snapshots.
type MiscellaneousCost struct {
	Meta
	Name        string          `json:"name"`
	CostType    string          `json:"cost_type"`
	Unit        string          `json:"unit,omitempty"`
	CostPerUnit decimal.Decimal `json:"cost_per_unit"`
	TaxID       int64           `json:"tax_id,omitempty"`
}

func (c *MiscellaneousCost) Kind() Kind           { return KindMiscellaneousCost }
func (c *MiscellaneousCost) SearchText() []string { return []string{c.Name, c.CostType} }

// Total returns the cost of quantity units.
func (c *MiscellaneousCost) Total(quantity int64) decimal.Decimal {
	return c.CostPerUnit.Mul(decimal.NewFromInt(quantity))
}
