package receipt

import "slices"

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusInTransit Status = "IN_TRANSIT"
	StatusReceived  Status = "RECEIVED"
	StatusConfirmed Status = "CONFIRMED"
	StatusRejected  Status = "REJECTED"
)

func (s Status) IsTerminal() bool {
	return s == StatusConfirmed || s == StatusRejected
}

type Kind string

const (
	KindDistribution Kind = "distribution"
	KindPharmacy     Kind = "pharmacy"
)

// Lifecycle is the role configuration of a receipt variant. Both variants
// share one status machine and differ in party roles.
type Lifecycle struct {
	Kind     Kind
	FromRole string
	ToRole   string
	sources  map[Status][]Status
}

var receiptSources = map[Status][]Status{
	StatusInTransit: {StatusPending},
	StatusReceived:  {StatusPending, StatusInTransit},
	StatusConfirmed: {StatusPending, StatusInTransit, StatusReceived},
}

var DistributionLifecycle = Lifecycle{
	Kind:     KindDistribution,
	FromRole: "manufacturer",
	ToRole:   "distributor",
	sources:  receiptSources,
}

var PharmacyLifecycle = Lifecycle{
	Kind:     KindPharmacy,
	FromRole: "distributor",
	ToRole:   "pharmacy",
	sources:  receiptSources,
}

func LifecycleFor(k Kind) (Lifecycle, bool) {
	switch k {
	case KindDistribution:
		return DistributionLifecycle, true
	case KindPharmacy:
		return PharmacyLifecycle, true
	}
	return Lifecycle{}, false
}

// Allows reports whether to is reachable from from in one step.
func (l Lifecycle) Allows(from, to Status) bool {
	return slices.Contains(l.sources[to], from)
}

// Sources lists the statuses from which to is reachable.
func (l Lifecycle) Sources(to Status) []Status {
	return slices.Clone(l.sources[to])
}
