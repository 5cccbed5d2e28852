package memgame

import (
	"math/rand/v2"

	"github.com/conorfennell/sleepwell/internal/domain"
	"github.com/conorfennell/sleepwell/internal/itemkey"
)

// Card is one slot of the deck.
type Card struct {
	Position int    `json:"position"`
	Identity string `json:"identity,omitempty"`
	Emoji    string `json:"emoji,omitempty"`
	FaceUp   bool   `json:"face_up"`
	Matched  bool   `json:"matched"`
}

// Deal duplicates items and shuffles the result with Fisher-Yates, so every
// ordering of the 2N cards is equally likely. intn(n) must return a uniform
// value in [0, n).
func Deal(items []domain.Item, intn func(n int) int) []Card {
	if intn == nil {
		intn = rand.IntN
	}

	cards := make([]Card, 0, 2*len(items))
	for pass := 0; pass < 2; pass++ {
		for _, item := range items {
			cards = append(cards, Card{Identity: itemkey.Normalize(item), Emoji: item.Emoji})
		}
	}

	for i := len(cards) - 1; i > 0; i-- {
		j := intn(i + 1)
		cards[i], cards[j] = cards[j], cards[i]
	}
	for i := range cards {
		cards[i].Position = i
	}
	return cards
}
