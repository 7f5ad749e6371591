package api

import (
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/DigitalEpidemic/retro-tool-sub000/domain"
	"github.com/DigitalEpidemic/retro-tool-sub000/timer"
)

const keepaliveInterval = 30 * time.Second

type sseEvent struct {
	name string
	data []byte
}

// streamBoard pushes the board document and the card snapshot to the client
// as named SSE events. Every delivery is a full snapshot, never a delta, so a
// client that missed events is correct again after the next one. EventSource
// cannot set headers, so the token may also arrive as a query parameter.
func streamBoard(boards Boards, cardSvc Cards, timerSvc Timer, auth Authenticator, roster Roster, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
		if authHeader == "" {
			if token := c.QueryParam("token"); token != "" {
				authHeader = "Bearer " + token
			}
		}
		userID, err := auth.UserIDFromAuthHeader(authHeader)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		ctx := c.Request().Context()
		boardID := c.Param("id")

		// Opening the stream is how a client joins the board, so the first
		// visitor creates it here.
		if _, err := boards.Ensure(ctx, boardID, userID); err != nil {
			return writeError(c, err)
		}

		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
		c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
		c.Response().Header().Set("X-Accel-Buffering", "no")
		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}
		c.Response().WriteHeader(http.StatusOK)

		// Initial comment so headers reach the client before the first event.
		if _, err := c.Response().Write([]byte(":ok\n\n")); err != nil {
			return nil
		}
		flusher.Flush()

		if roster != nil {
			roster.Join(boardID, userID)
			defer roster.Leave(boardID, userID)
		}

		events := make(chan sseEvent, 16)
		push := func(name string, payload any) {
			data, err := sonic.Marshal(payload)
			if err != nil {
				logger.WithField("board", boardID).Errorf("stream encode: %v", err)
				return
			}
			offer(events, sseEvent{name: name, data: data})
		}

		// Each board delivery reconciles the countdown tick loop, so the timer
		// keeps ticking (and auto-expires) while anyone has the board open.
		unsubBoard, err := boards.Subscribe(ctx, boardID, func(b *domain.Board) {
			push("board", b)
			timerSvc.Observe(ctx, b, func(remaining int) {
				push("timer", timerTickEvent{Remaining: remaining, Display: timer.FormatDuration(remaining)})
			})
		})
		if err != nil {
			return writeError(c, err)
		}
		defer unsubBoard()
		defer timerSvc.Stop(boardID)

		unsubCards, err := cardSvc.Subscribe(ctx, boardID, func(snapshot []domain.Card) {
			push("cards", snapshot)
		})
		if err != nil {
			return writeError(c, err)
		}
		defer unsubCards()

		ticker := time.NewTicker(keepaliveInterval)
		defer ticker.Stop()
		for {
			select {
			case ev := <-events:
				if err := writeEvent(c, ev); err != nil {
					return nil
				}
				flusher.Flush()
			case <-ticker.C:
				if _, err := c.Response().Write([]byte(":keepalive\n\n")); err != nil {
					return nil
				}
				flusher.Flush()
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// offer enqueues ev, evicting the oldest buffered event when the client is
// too slow to drain. The newest snapshot always survives backpressure, so a
// slow client converges on the current state once it catches up.
func offer(events chan sseEvent, ev sseEvent) {
	for {
		select {
		case events <- ev:
			return
		default:
		}
		select {
		case <-events:
		default:
		}
	}
}

func writeEvent(c echo.Context, ev sseEvent) error {
	if _, err := c.Response().Write([]byte("event: " + ev.name + "\ndata: ")); err != nil {
		return err
	}
	if _, err := c.Response().Write(ev.data); err != nil {
		return err
	}
	_, err := c.Response().Write([]byte("\n\n"))
	return err
}
