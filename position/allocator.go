// Package position computes new per-card order keys after a drag-and-drop
// move. It is pure computation over a card snapshot; the caller is
// responsible for applying the resulting plan as one atomic batch.
package position

import (
	"fmt"
	"sort"

	"github.com/DigitalEpidemic/retro-tool-sub000/domain"
)

// Order keys restart from baseKey and grow by keyStep on every reallocation.
// The constants are not load-bearing; only monotonicity and uniqueness within
// a column matter.
const (
	baseKey = 10
	keyStep = 10
)

// CardNotFoundError is returned when the moved card id is absent from the
// supplied snapshot. No position updates are produced in that case.
type CardNotFoundError struct {
	CardID string
}

func (e CardNotFoundError) Error() string {
	return fmt.Sprintf("card %s not found in board snapshot", e.CardID)
}

// Update assigns a new order key to a single card.
type Update struct {
	CardID   string
	Position int64
}

// Plan describes the outcome of a move: the moved card's destination column
// and a full re-key of every card in the affected column(s).
type Plan struct {
	MovedCardID string
	ColumnID    string
	// Source holds re-keys for the column the card left. Empty for a
	// same-column move, which is recomputed once via Destination.
	Source      []Update
	Destination []Update
}

// Allocate recomputes order keys after moving a card to destIndex in
// destColumn. Every card in the source and destination columns is re-keyed
// densely, not merely the shifted ones, so no collision math is needed. The
// index is clamped to [0, len]; an index past the end appends.
func Allocate(all []domain.Card, movedID, destColumn string, destIndex int, srcColumn string) (*Plan, error) {
	var moved *domain.Card
	for i := range all {
		if all[i].ID == movedID {
			moved = &all[i]
			break
		}
	}
	if moved == nil {
		return nil, CardNotFoundError{CardID: movedID}
	}

	source := columnCards(all, srcColumn, movedID)
	var dest []domain.Card
	if destColumn == srcColumn {
		dest = source
		source = nil
	} else {
		dest = columnCards(all, destColumn, movedID)
	}

	if destIndex < 0 {
		destIndex = 0
	}
	if destIndex > len(dest) {
		destIndex = len(dest)
	}
	dest = append(dest[:destIndex:destIndex], append([]domain.Card{*moved}, dest[destIndex:]...)...)

	plan := &Plan{
		MovedCardID: movedID,
		ColumnID:    destColumn,
		Source:      rekey(source),
		Destination: rekey(dest),
	}
	return plan, nil
}

// columnCards returns the column's cards in display order, excluding the
// moved card.
func columnCards(all []domain.Card, columnID, excludeID string) []domain.Card {
	var cards []domain.Card
	for _, c := range all {
		if c.ColumnID != columnID || c.ID == excludeID {
			continue
		}
		cards = append(cards, c)
	}
	sort.SliceStable(cards, func(i, j int) bool {
		if cards[i].Position != cards[j].Position {
			return cards[i].Position < cards[j].Position
		}
		return cards[i].ID < cards[j].ID
	})
	return cards
}

func rekey(cards []domain.Card) []Update {
	updates := make([]Update, len(cards))
	for i, c := range cards {
		updates[i] = Update{CardID: c.ID, Position: baseKey + int64(i)*keyStep}
	}
	return updates
}
