package events

// Topic constants for domain events emitted by the cart engine.
const (
	TopicCartUpdated       = "cart.updated"
	TopicCartCleared       = "cart.cleared"
	TopicCartCheckedOut    = "cart.checked_out"
	TopicPromotionApplied  = "promotion.applied"
	TopicPromotionReleased = "promotion.released"
)

// DefaultTopics returns the canonical list of emitted topics.
func DefaultTopics() []string {
	return []string{
		TopicCartUpdated,
		TopicCartCleared,
		TopicCartCheckedOut,
		TopicPromotionApplied,
		TopicPromotionReleased,
	}
}
