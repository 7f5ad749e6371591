package api

import (
	"context"

	"github.com/DigitalEpidemic/retro-tool-sub000/domain"
	"github.com/DigitalEpidemic/retro-tool-sub000/store"
)

// Boards abstracts board lifecycle and subscriptions for handlers.
type Boards interface {
	Ensure(ctx context.Context, boardID, facilitatorID string) (*domain.Board, error)
	Get(ctx context.Context, boardID string) (*domain.Board, error)
	Update(ctx context.Context, boardID string, fields store.Document) error
	SetColumns(ctx context.Context, boardID string, cols map[string]domain.Column) error
	Subscribe(ctx context.Context, boardID string, fn func(*domain.Board)) (store.Unsubscribe, error)
}

// Cards abstracts card reconciliation for handlers.
type Cards interface {
	Snapshot(ctx context.Context, boardID string) ([]domain.Card, error)
	Subscribe(ctx context.Context, boardID string, fn func([]domain.Card)) (store.Unsubscribe, error)
	AddCard(ctx context.Context, boardID, columnID, content, authorID, authorName string) (*domain.Card, error)
	UpdateCard(ctx context.Context, boardID, cardID string, fields store.Document) error
	DeleteCard(ctx context.Context, boardID, cardID string) error
	VoteForCard(ctx context.Context, boardID, cardID string, direction int) error
	MoveCard(ctx context.Context, boardID, cardID, destColumnID string, destIndex int) error
}

// Timer abstracts countdown transitions and the per-board tick loop. The
// stream handler calls Observe on every board delivery so the countdown keeps
// running (and auto-expires) as long as at least one client holds the board
// open, and Stop on teardown.
type Timer interface {
	Start(ctx context.Context, boardID string) error
	Pause(ctx context.Context, boardID string) error
	Reset(ctx context.Context, boardID string, targetSeconds int) error
	EditDuration(ctx context.Context, boardID, value string) error
	Observe(ctx context.Context, b *domain.Board, onTick func(remaining int))
	Stop(boardID string)
}

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Exporter renders a board and its cards into a downloadable document.
// Optional; the export route answers 404 when none is wired.
type Exporter func(*domain.Board, []domain.Card) string

// Roster tracks which users currently hold a stream open on a board.
// Optional; the stream handler tolerates a nil roster.
type Roster interface {
	Join(boardID, userID string)
	Leave(boardID, userID string)
}
