package handoff

import (
	"slices"
)

// Status is shared by both transfer variants; each Lifecycle uses a subset.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusDraft     Status = "DRAFT"
	StatusIssued    Status = "ISSUED"
	StatusSent      Status = "SENT"
	StatusConfirmed Status = "CONFIRMED"
	StatusDelivered Status = "DELIVERED"
	StatusPaid      Status = "PAID"
	StatusCancelled Status = "CANCELLED"
)

// Kind distinguishes the two handoff legs of the chain.
type Kind string

const (
	KindManufacturer Kind = "manufacturer_to_distributor"
	KindDistributor  Kind = "distributor_to_pharmacy"
)

// LedgerOutcome classifies the last failed ledger attempt of a transfer.
type LedgerOutcome string

const (
	LedgerRejected      LedgerOutcome = "rejected"
	LedgerUnavailable   LedgerOutcome = "unavailable"
	LedgerIndeterminate LedgerOutcome = "indeterminate"
)

// Action is a forward transition request.
type Action string

const (
	ActionIssue   Action = "issue"
	ActionSend    Action = "send"
	ActionConfirm Action = "confirm"
	ActionDeliver Action = "deliver"
	ActionPay     Action = "pay"
)

type transition struct {
	from Status
	to   Status
}

// Lifecycle is the role configuration of a transfer variant: its status
// vocabulary, allowed forward transitions and party roles.
type Lifecycle struct {
	Kind     Kind
	FromRole string
	ToRole   string
	// DocumentPrefix is used when a document number has to be generated.
	DocumentPrefix string
	initial        Status
	order          []Status
	success        Status
	transitions    map[Action]transition
	inFlight       []Status
}

var ManufacturerLifecycle = Lifecycle{
	Kind:           KindManufacturer,
	FromRole:       "manufacturer",
	ToRole:         "distributor",
	DocumentPrefix: "INV",
	initial:        StatusPending,
	order:          []Status{StatusPending, StatusIssued, StatusSent, StatusConfirmed, StatusDelivered},
	success:        StatusDelivered,
	transitions: map[Action]transition{
		ActionIssue:   {from: StatusPending, to: StatusIssued},
		ActionSend:    {from: StatusIssued, to: StatusSent},
		ActionConfirm: {from: StatusSent, to: StatusConfirmed},
		ActionDeliver: {from: StatusConfirmed, to: StatusDelivered},
	},
	inFlight: []Status{StatusIssued, StatusSent},
}

var DistributorLifecycle = Lifecycle{
	Kind:           KindDistributor,
	FromRole:       "distributor",
	ToRole:         "pharmacy",
	DocumentPrefix: "CI",
	initial:        StatusDraft,
	order:          []Status{StatusDraft, StatusIssued, StatusSent, StatusPaid},
	success:        StatusPaid,
	transitions: map[Action]transition{
		ActionIssue: {from: StatusDraft, to: StatusIssued},
		ActionSend:  {from: StatusIssued, to: StatusSent},
		ActionPay:   {from: StatusSent, to: StatusPaid},
	},
	inFlight: []Status{StatusIssued, StatusSent},
}

// LifecycleFor returns the configuration for a kind.
func LifecycleFor(k Kind) (Lifecycle, bool) {
	switch k {
	case KindManufacturer:
		return ManufacturerLifecycle, true
	case KindDistributor:
		return DistributorLifecycle, true
	}
	return Lifecycle{}, false
}

func (l Lifecycle) Initial() Status { return l.initial }
func (l Lifecycle) Success() Status { return l.success }

// Statuses returns the forward order followed by CANCELLED.
func (l Lifecycle) Statuses() []Status {
	return append(slices.Clone(l.order), StatusCancelled)
}

func (l Lifecycle) Knows(s Status) bool {
	return s == StatusCancelled || slices.Contains(l.order, s)
}

// Rank is the position of s in the forward order, or -1.
func (l Lifecycle) Rank(s Status) int {
	return slices.Index(l.order, s)
}

func (l Lifecycle) IsTerminal(s Status) bool {
	return s == l.success || s == StatusCancelled
}

func (l Lifecycle) IsInFlight(s Status) bool {
	return slices.Contains(l.inFlight, s)
}

// Supports reports whether the variant has the action at all.
func (l Lifecycle) Supports(a Action) bool {
	_, ok := l.transitions[a]
	return ok
}
