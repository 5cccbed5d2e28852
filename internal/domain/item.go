package domain

// Item is one symbol of a memory-game item set. Every item appears twice in a deck.
type Item struct {
	Name  string
	Emoji string
	Hash  string
}

// DefaultItems is the calming set used when no item-set source has been synced.
var DefaultItems = []Item{
	{Name: "moon", Emoji: "🌙"},
	{Name: "star", Emoji: "⭐"},
	{Name: "cloud", Emoji: "☁️"},
	{Name: "leaf", Emoji: "🍃"},
	{Name: "wave", Emoji: "🌊"},
	{Name: "candle", Emoji: "🕯️"},
}
