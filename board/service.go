// Package board manages the board aggregate: creation on first access,
// partial writes, column management and the board snapshot subscription.
package board

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"

	"github.com/DigitalEpidemic/retro-tool-sub000/domain"
	"github.com/DigitalEpidemic/retro-tool-sub000/store"
)

// Collection is the store collection holding board documents.
const Collection = "boards"

// Service reads and writes board documents through the store gateway.
type Service struct {
	store  store.Gateway
	clock  clockwork.Clock
	logger *log.Logger
}

// NewService creates a board service.
func NewService(gw store.Gateway, clock clockwork.Clock, logger *log.Logger) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Service{store: gw, clock: clock, logger: logger}
}

func boardRef(boardID string) store.Ref {
	return store.Ref{Collection: Collection, ID: boardID}
}

// Get fetches a board or domain.ErrBoardNotFound.
func (s *Service) Get(ctx context.Context, boardID string) (*domain.Board, error) {
	doc, err := s.store.GetDocument(ctx, boardRef(boardID))
	if err != nil {
		if errors.Is(err, store.ErrDocumentNotFound) {
			return nil, domain.ErrBoardNotFound
		}
		return nil, err
	}
	return domain.BoardFromDocument(boardID, doc), nil
}

// Ensure returns the board, creating it with default columns and a reset
// timer when the id is unknown. The first visitor becomes the facilitator.
func (s *Service) Ensure(ctx context.Context, boardID, facilitatorID string) (*domain.Board, error) {
	b, err := s.Get(ctx, boardID)
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, domain.ErrBoardNotFound) {
		return nil, err
	}

	fresh := &domain.Board{
		ID:                           boardID,
		Name:                         "Retrospective",
		Columns:                      domain.DefaultColumns(),
		FacilitatorID:                facilitatorID,
		Active:                       true,
		CreatedAt:                    s.clock.Now(),
		TimerDurationSeconds:         domain.DefaultTimerSeconds,
		TimerOriginalDurationSeconds: domain.DefaultTimerSeconds,
	}
	if err := s.store.SetDocument(ctx, boardRef(boardID), domain.BoardDocument(fresh)); err != nil {
		return nil, fmt.Errorf("create board %s: %w", boardID, err)
	}
	s.logger.WithFields(log.Fields{"board": boardID, "facilitator": facilitatorID}).Info("board created on first access")
	return fresh, nil
}

// Update applies a partial field write to the board document.
func (s *Service) Update(ctx context.Context, boardID string, fields store.Document) error {
	err := s.store.UpdateDocument(ctx, boardRef(boardID), fields)
	if errors.Is(err, store.ErrDocumentNotFound) {
		return domain.ErrBoardNotFound
	}
	return err
}

// SetColumns replaces the board's column map.
func (s *Service) SetColumns(ctx context.Context, boardID string, cols map[string]domain.Column) error {
	b := &domain.Board{Columns: cols}
	doc := domain.BoardDocument(b)
	return s.Update(ctx, boardID, store.Document{"columns": doc["columns"]})
}

// SetColumnSorting toggles vote-sorted display for one column.
func (s *Service) SetColumnSorting(ctx context.Context, boardID, columnID string, sortByVotes bool) error {
	b, err := s.Get(ctx, boardID)
	if err != nil {
		return err
	}
	col, ok := b.Columns[columnID]
	if !ok {
		return fmt.Errorf("column %s not on board %s", columnID, boardID)
	}
	col.SortByVotes = sortByVotes
	b.Columns[columnID] = col
	return s.SetColumns(ctx, boardID, b.Columns)
}

// Subscribe delivers the decoded board on every remote change. A nil board is
// delivered when the document is absent, so subscribers can terminate loading
// states instead of spinning.
func (s *Service) Subscribe(ctx context.Context, boardID string, fn func(*domain.Board)) (store.Unsubscribe, error) {
	return s.store.SubscribeDocument(ctx, boardRef(boardID), func(doc store.Document) {
		if doc == nil {
			fn(nil)
			return
		}
		fn(domain.BoardFromDocument(boardID, doc))
	})
}
