package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/DigitalEpidemic/retro-tool-sub000/cards"
	"github.com/DigitalEpidemic/retro-tool-sub000/domain"
	"github.com/DigitalEpidemic/retro-tool-sub000/position"
	"github.com/DigitalEpidemic/retro-tool-sub000/store"
	"github.com/DigitalEpidemic/retro-tool-sub000/timer"
)

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, boards Boards, cardSvc Cards, timerSvc Timer, auth Authenticator, exporter Exporter, roster Roster, logger *log.Logger) {
	e.Use(GzipRequestMiddleware())

	e.GET("/api/boards/:id", getBoard(boards, auth, logger))
	e.PATCH("/api/boards/:id", patchBoard(boards, auth))
	e.PUT("/api/boards/:id/columns", putColumns(boards, auth))

	e.POST("/api/boards/:id/cards", postCard(cardSvc, auth))
	e.PATCH("/api/boards/:id/cards/:cardId", patchCard(cardSvc, auth))
	e.DELETE("/api/boards/:id/cards/:cardId", deleteCard(cardSvc, auth))
	e.POST("/api/boards/:id/cards/:cardId/vote", postVote(cardSvc, auth))
	e.POST("/api/boards/:id/cards/:cardId/move", postMove(cardSvc, auth, logger))

	e.POST("/api/boards/:id/timer/start", timerAction(timerSvc.Start, auth))
	e.POST("/api/boards/:id/timer/pause", timerAction(timerSvc.Pause, auth))
	e.POST("/api/boards/:id/timer/reset", postTimerReset(timerSvc, auth))
	e.PUT("/api/boards/:id/timer/duration", putTimerDuration(timerSvc, auth))

	e.GET("/api/boards/:id/stream", streamBoard(boards, cardSvc, timerSvc, auth, roster, logger))
	e.GET("/api/boards/:id/export", getExport(boards, cardSvc, auth, exporter, logger))
	e.GET("/healthz", healthz())
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

// writeError maps core errors onto HTTP statuses. Unknown failures surface as
// 502 because from the gateway's point of view the store is the upstream.
func writeError(c echo.Context, err error) error {
	var cardErr position.CardNotFoundError
	var validationErr timer.ValidationError
	switch {
	case errors.Is(err, domain.ErrBoardNotFound),
		errors.Is(err, domain.ErrCardNotFound),
		errors.Is(err, store.ErrDocumentNotFound),
		errors.As(err, &cardErr):
		return c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.As(err, &validationErr),
		errors.Is(err, cards.ErrInvalidVoteDirection):
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	default:
		return c.JSON(http.StatusBadGateway, errorResponse{Error: err.Error()})
	}
}

func decodeBody(c echo.Context, out any) error {
	lr := io.LimitReader(c.Request().Body, requestBodyMaxSize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

func authenticate(c echo.Context, auth Authenticator) (string, error) {
	return auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
}

// getBoard ensures the board exists before returning it; the first visitor
// creates it and becomes facilitator.
func getBoard(boards Boards, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newRequestMetrics(ctx, logger, "/api/boards/:id")
		c.SetRequest(c.Request().WithContext(spanCtx))
		ctx = spanCtx
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		authStart := time.Now()
		userID, authErr := authenticate(c, auth)
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			err = c.String(http.StatusUnauthorized, authErr.Error())
			return err
		}

		loadStart := time.Now()
		b, ensureErr := boards.Ensure(ctx, c.Param("id"), userID)
		metrics.ObserveLoad(time.Since(loadStart))
		if ensureErr != nil {
			metrics.SetErrorStage("store")
			err = writeError(c, ensureErr)
			return err
		}
		err = c.JSON(http.StatusOK, b)
		return err
	}
}

func patchBoard(boards Boards, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, err := authenticate(c, auth); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var req updateBoardRequest
		if err := decodeBody(c, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		fields := store.Document{}
		if req.Name != nil {
			fields["name"] = *req.Name
		}
		if req.FacilitatorID != nil {
			fields["facilitatorId"] = *req.FacilitatorID
		}
		if req.Active != nil {
			fields["isActive"] = *req.Active
		}
		if len(fields) == 0 {
			return c.NoContent(http.StatusNoContent)
		}
		if err := boards.Update(c.Request().Context(), c.Param("id"), fields); err != nil {
			return writeError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func putColumns(boards Boards, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, err := authenticate(c, auth); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var cols map[string]domain.Column
		if err := decodeBody(c, &cols); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		if err := boards.SetColumns(c.Request().Context(), c.Param("id"), cols); err != nil {
			return writeError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func postCard(cardSvc Cards, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := authenticate(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var req createCardRequest
		if err := decodeBody(c, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		if req.ColumnID == "" || req.Content == "" {
			return c.String(http.StatusBadRequest, "columnId and content are required")
		}
		card, err := cardSvc.AddCard(c.Request().Context(), c.Param("id"), req.ColumnID, req.Content, userID, req.AuthorName)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusCreated, card)
	}
}

func patchCard(cardSvc Cards, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, err := authenticate(c, auth); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var req updateCardRequest
		if err := decodeBody(c, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		if req.Content == nil {
			return c.NoContent(http.StatusNoContent)
		}
		fields := store.Document{"content": *req.Content}
		if err := cardSvc.UpdateCard(c.Request().Context(), c.Param("id"), c.Param("cardId"), fields); err != nil {
			return writeError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func deleteCard(cardSvc Cards, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, err := authenticate(c, auth); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		if err := cardSvc.DeleteCard(c.Request().Context(), c.Param("id"), c.Param("cardId")); err != nil {
			return writeError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func postVote(cardSvc Cards, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, err := authenticate(c, auth); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var req voteRequest
		if err := decodeBody(c, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		if err := cardSvc.VoteForCard(c.Request().Context(), c.Param("id"), c.Param("cardId"), req.Direction); err != nil {
			return writeError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func postMove(cardSvc Cards, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newRequestMetrics(ctx, logger, "/api/boards/:id/cards/:cardId/move")
		c.SetRequest(c.Request().WithContext(spanCtx))
		ctx = spanCtx
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		authStart := time.Now()
		_, authErr := authenticate(c, auth)
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			err = c.String(http.StatusUnauthorized, authErr.Error())
			return err
		}

		var req moveCardRequest
		if decodeErr := decodeBody(c, &req); decodeErr != nil {
			metrics.SetErrorStage("decode")
			err = c.String(http.StatusBadRequest, "invalid body")
			return err
		}
		if req.ToColumn == "" {
			metrics.SetErrorStage("decode")
			err = c.String(http.StatusBadRequest, "toColumn is required")
			return err
		}

		writeStart := time.Now()
		moveErr := cardSvc.MoveCard(ctx, c.Param("id"), c.Param("cardId"), req.ToColumn, req.Index)
		metrics.ObserveWrite(time.Since(writeStart))
		if moveErr != nil {
			metrics.SetErrorStage("store")
			err = writeError(c, moveErr)
			return err
		}
		err = c.NoContent(http.StatusNoContent)
		return err
	}
}

func timerAction(action func(ctx context.Context, boardID string) error, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, err := authenticate(c, auth); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		if err := action(c.Request().Context(), c.Param("id")); err != nil {
			return writeError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func postTimerReset(timerSvc Timer, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, err := authenticate(c, auth); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var req resetTimerRequest
		if c.Request().ContentLength != 0 {
			if err := decodeBody(c, &req); err != nil {
				return c.String(http.StatusBadRequest, "invalid body")
			}
		}
		if err := timerSvc.Reset(c.Request().Context(), c.Param("id"), req.Seconds); err != nil {
			return writeError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func putTimerDuration(timerSvc Timer, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, err := authenticate(c, auth); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var req timerDurationRequest
		if err := decodeBody(c, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		if err := timerSvc.EditDuration(c.Request().Context(), c.Param("id"), req.Duration); err != nil {
			return writeError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func getExport(boards Boards, cardSvc Cards, auth Authenticator, exporter Exporter, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newRequestMetrics(ctx, logger, "/api/boards/:id/export")
		c.SetRequest(c.Request().WithContext(spanCtx))
		ctx = spanCtx
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		authStart := time.Now()
		_, authErr := authenticate(c, auth)
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			err = c.String(http.StatusUnauthorized, authErr.Error())
			return err
		}
		if exporter == nil {
			err = c.String(http.StatusNotFound, "export not configured")
			return err
		}

		boardID := c.Param("id")
		loadStart := time.Now()
		b, loadErr := boards.Get(ctx, boardID)
		if loadErr != nil {
			metrics.ObserveLoad(time.Since(loadStart))
			metrics.SetErrorStage("store")
			err = writeError(c, loadErr)
			return err
		}
		snapshot, snapErr := cardSvc.Snapshot(ctx, boardID)
		metrics.ObserveLoad(time.Since(loadStart))
		if snapErr != nil {
			metrics.SetErrorStage("store")
			err = writeError(c, snapErr)
			return err
		}
		metrics.SetCardsReturned(len(snapshot))

		err = c.Blob(http.StatusOK, "text/markdown; charset=utf-8", []byte(exporter(b, snapshot)))
		return err
	}
}
