package models

// Transition kinds written to aggregate logs.
const (
	TransitionStatus      = "status"
	TransitionTier        = "tier"
	TransitionLifecycle   = "lifecycle"
	TransitionGate        = "gate"
	TransitionMarketplace = "marketplace"
)

// Tier change directions carried in the Note of a tier transition.
const (
	TierChangePromotion = "promotion"
	TierChangeDemotion  = "demotion"
	TierChangeNoop      = "noop"
)

// Aggregate kinds used for snapshot keys and routing keys.
const (
	AggregateAgent   = "agent"
	AggregateCapsule = "capsule"
)
