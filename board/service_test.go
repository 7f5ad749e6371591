package board

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/DigitalEpidemic/retro-tool-sub000/domain"
	"github.com/DigitalEpidemic/retro-tool-sub000/store"
)

func newTestService(t *testing.T) (*Service, *store.RedisStore) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := log.New()
	logger.SetLevel(log.PanicLevel)
	gw := store.NewRedisStore(client, logger)
	return NewService(gw, clockwork.NewFakeClockAt(time.Unix(1700000000, 0)), logger), gw
}

func TestGetUnknownBoard(t *testing.T) {
	s, _ := newTestService(t)
	if _, err := s.Get(context.Background(), "nope"); !errors.Is(err, domain.ErrBoardNotFound) {
		t.Fatalf("expected ErrBoardNotFound, got %v", err)
	}
}

func TestEnsureCreatesBoardOnFirstAccess(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	b, err := s.Ensure(ctx, "b1", "user-1")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if b.FacilitatorID != "user-1" {
		t.Fatalf("first visitor must become facilitator, got %q", b.FacilitatorID)
	}
	if len(b.Columns) != 3 {
		t.Fatalf("expected default columns, got %v", b.Columns)
	}
	if b.TimerDurationSeconds != domain.DefaultTimerSeconds || b.TimerOriginalDurationSeconds != domain.DefaultTimerSeconds {
		t.Fatalf("expected reset timer at %d, got %+v", domain.DefaultTimerSeconds, b)
	}
	if b.TimerIsRunning || b.TimerStartTime != nil || b.TimerPausedDurationSeconds != nil {
		t.Fatalf("fresh board timer must be idle, got %+v", b)
	}

	// A later visitor does not take over facilitation.
	again, err := s.Ensure(ctx, "b1", "user-2")
	if err != nil {
		t.Fatalf("second ensure: %v", err)
	}
	if again.FacilitatorID != "user-1" {
		t.Fatalf("facilitator must not change on later access, got %q", again.FacilitatorID)
	}
}

func TestUpdateMergesPartialFields(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	if _, err := s.Ensure(ctx, "b1", "user-1"); err != nil {
		t.Fatalf("ensure: %v", err)
	}

	if err := s.Update(ctx, "b1", store.Document{"name": "Sprint 14"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	b, err := s.Get(ctx, "b1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if b.Name != "Sprint 14" {
		t.Fatalf("name not updated: %q", b.Name)
	}
	if b.FacilitatorID != "user-1" {
		t.Fatalf("unrelated field clobbered: %q", b.FacilitatorID)
	}
}

func TestUpdateUnknownBoard(t *testing.T) {
	s, _ := newTestService(t)
	err := s.Update(context.Background(), "nope", store.Document{"name": "x"})
	if !errors.Is(err, domain.ErrBoardNotFound) {
		t.Fatalf("expected ErrBoardNotFound, got %v", err)
	}
}

func TestSetColumnSorting(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	if _, err := s.Ensure(ctx, "b1", "user-1"); err != nil {
		t.Fatalf("ensure: %v", err)
	}

	if err := s.SetColumnSorting(ctx, "b1", "wentWell", true); err != nil {
		t.Fatalf("set sorting: %v", err)
	}
	b, err := s.Get(ctx, "b1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !b.Columns["wentWell"].SortByVotes {
		t.Fatalf("sortByVotes not persisted: %+v", b.Columns["wentWell"])
	}
	if b.Columns["toImprove"].SortByVotes {
		t.Fatalf("other columns must be untouched: %+v", b.Columns["toImprove"])
	}

	if err := s.SetColumnSorting(ctx, "b1", "nope", true); err == nil {
		t.Fatal("expected error for unknown column")
	}
}

func TestSubscribeDeliversBoardAndNilOnDelete(t *testing.T) {
	s, gw := newTestService(t)
	ctx := context.Background()
	if _, err := s.Ensure(ctx, "b1", "user-1"); err != nil {
		t.Fatalf("ensure: %v", err)
	}

	boards := make(chan *domain.Board, 16)
	unsub, err := s.Subscribe(ctx, "b1", func(b *domain.Board) { boards <- b })
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer unsub()

	initial := waitForBoard(t, boards)
	if initial == nil || initial.ID != "b1" {
		t.Fatalf("unexpected initial delivery: %+v", initial)
	}

	if err := s.Update(ctx, "b1", store.Document{"name": "Renamed"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		b := waitForBoard(t, boards)
		if b != nil && b.Name == "Renamed" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("rename never delivered, last: %+v", b)
		}
	}

	if err := gw.DeleteDocument(ctx, store.Ref{Collection: Collection, ID: "b1"}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	deadline = time.Now().Add(2 * time.Second)
	for {
		b := waitForBoard(t, boards)
		if b == nil {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("nil board never delivered, last: %+v", b)
		}
	}
}

func waitForBoard(t *testing.T, ch <-chan *domain.Board) *domain.Board {
	t.Helper()
	select {
	case b := <-ch:
		return b
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for board delivery")
		return nil
	}
}
