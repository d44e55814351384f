package adminapi

import (
	"encoding/csv"
	"errors"
	"fmt"
	"net/http"
	"time"

	"tg-crm/internal/broadcast"
	"tg-crm/internal/database"
	"tg-crm/internal/database/models"
	"tg-crm/internal/keyboard"
	"tg-crm/internal/locales"
	"tg-crm/internal/media"
	"tg-crm/internal/notify"

	sentry "github.com/getsentry/sentry-go"
	"github.com/labstack/echo/v4"
	"github.com/nicksnyder/go-i18n/v2/i18n"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type errorResponse struct {
	Error string `json:"error"`
}

type createRequest struct {
	Text          string               `json:"text"`
	PostMediaText string               `json:"post_media_text"`
	Buttons       keyboard.Layout      `json:"buttons"`
	Comment       string               `json:"comment"`
	Media         []models.MediaItem   `json:"media"`
	RecipientIDs  []primitive.ObjectID `json:"recipient_ids"`
}

type sendResponse struct {
	Summary *broadcast.Summary `json:"summary"`
	Message string             `json:"message"`
}

type queueResponse struct {
	State     models.BroadcastState `json:"state"`
	Submitted bool                  `json:"submitted"`
	Message   string                `json:"message"`
}

type statsResponse struct {
	BroadcastID primitive.ObjectID `json:"broadcast_id"`
	models.StatusCounts
}

func (s *Server) handleCreate(c echo.Context) error {
	var req createRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{
			Error: locales.GetMessage(s.localizer(c), locales.MsgInvalidRequest, nil),
		})
	}

	buttons, err := keyboard.Marshal(req.Buttons)
	if err != nil {
		return s.fail(c, err)
	}
	b := &models.Broadcast{
		Text:          req.Text,
		PostMediaText: req.PostMediaText,
		ButtonsJSON:   buttons,
		Comment:       req.Comment,
		Media:         req.Media,
		RecipientIDs:  req.RecipientIDs,
	}
	if err := s.svc.Create(c.Request().Context(), b); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusCreated, b)
}

func (s *Server) handleSend(c echo.Context) error {
	id, err := s.broadcastID(c)
	if err != nil {
		return err
	}

	summary, err := s.svc.Send(s.runCtx, id)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, sendResponse{
		Summary: summary,
		Message: notify.Format(s.localizer(c), summary),
	})
}

func (s *Server) handleQueue(c echo.Context) error {
	id, err := s.broadcastID(c)
	if err != nil {
		return err
	}

	if err := s.svc.Enqueue(c.Request().Context(), id); err != nil {
		return s.fail(c, err)
	}
	submitted := false
	if s.submitter != nil {
		submitted = s.submitter.Submit(id)
	}
	return c.JSON(http.StatusAccepted, queueResponse{
		State:     models.StateQueued,
		Submitted: submitted,
		Message:   locales.GetMessage(s.localizer(c), locales.MsgBroadcastQueued, nil),
	})
}

func (s *Server) handleStats(c echo.Context) error {
	id, err := s.broadcastID(c)
	if err != nil {
		return err
	}

	counts, err := s.svc.Stats(c.Request().Context(), id)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, statsResponse{BroadcastID: id, StatusCounts: counts})
}

func (s *Server) handleDeliveries(c echo.Context) error {
	id, err := s.broadcastID(c)
	if err != nil {
		return err
	}

	deliveries, err := s.svc.Deliveries(c.Request().Context(), id)
	if err != nil {
		return s.fail(c, err)
	}
	if deliveries == nil {
		deliveries = []models.Delivery{}
	}
	return c.JSON(http.StatusOK, deliveries)
}

func (s *Server) handleDeliveriesCSV(c echo.Context) error {
	id, err := s.broadcastID(c)
	if err != nil {
		return err
	}

	deliveries, err := s.svc.Deliveries(c.Request().Context(), id)
	if err != nil {
		return s.fail(c, err)
	}

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/csv; charset=utf-8")
	resp.Header().Set(echo.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="deliveries-%s.csv"`, id.Hex()))
	resp.WriteHeader(http.StatusOK)

	w := csv.NewWriter(resp)
	_ = w.Write([]string{"recipient_id", "status", "error_text", "created_at", "updated_at"})
	for _, d := range deliveries {
		_ = w.Write([]string{
			d.RecipientID.Hex(),
			string(d.Status),
			d.ErrorText,
			d.CreatedAt.UTC().Format(time.RFC3339),
			d.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}
	w.Flush()
	return w.Error()
}

func (s *Server) broadcastID(c echo.Context) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		return primitive.NilObjectID, echo.NewHTTPError(http.StatusBadRequest, errorResponse{
			Error: locales.GetMessage(s.localizer(c), locales.MsgInvalidBroadcastID, nil),
		})
	}
	return id, nil
}

// fail maps engine errors to HTTP responses.
func (s *Server) fail(c echo.Context, err error) error {
	loc := s.localizer(c)
	data := map[string]interface{}{"Error": err.Error()}

	switch {
	case errors.Is(err, database.ErrBroadcastNotFound):
		return c.JSON(http.StatusNotFound, errorResponse{Error: locales.GetMessage(loc, locales.MsgBroadcastNotFound, nil)})
	case errors.Is(err, broadcast.ErrAlreadyInProgress):
		return c.JSON(http.StatusConflict, errorResponse{Error: locales.GetMessage(loc, locales.MsgBroadcastAlreadyRunning, nil)})
	case errors.Is(err, keyboard.ErrInvalidButtons):
		return c.JSON(http.StatusUnprocessableEntity, errorResponse{Error: locales.GetMessage(loc, locales.MsgInvalidButtons, data)})
	case errors.Is(err, media.ErrNoContent):
		return c.JSON(http.StatusUnprocessableEntity, errorResponse{Error: locales.GetMessage(loc, locales.MsgEmptyBroadcast, nil)})
	case errors.Is(err, media.ErrMediaOutsideRoot):
		return c.JSON(http.StatusUnprocessableEntity, errorResponse{Error: locales.GetMessage(loc, locales.MsgMediaOutsideRoot, data)})
	case errors.Is(err, media.ErrMediaMissing):
		return c.JSON(http.StatusUnprocessableEntity, errorResponse{Error: locales.GetMessage(loc, locales.MsgMediaMissing, data)})
	}

	log.Error().Err(err).
		Str("path", c.Path()).
		Str("request_id", c.Response().Header().Get(echo.HeaderXRequestID)).
		Msg("[AdminAPI] Request failed")
	sentry.CaptureException(err)
	return c.JSON(http.StatusInternalServerError, errorResponse{Error: locales.GetMessage(loc, locales.MsgErrorGeneral, nil)})
}

func (s *Server) localizer(c echo.Context) *i18n.Localizer {
	return locales.NewLocalizer(c.Request().Header.Get("Accept-Language"), s.cfg.Language)
}
