package handler

import (
	"encoding/json"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/medres/whatsapp-gateway/internal/config"
	apperrors "github.com/medres/whatsapp-gateway/internal/errors"
	"github.com/medres/whatsapp-gateway/internal/httputil"
	"github.com/medres/whatsapp-gateway/internal/repository"
	"github.com/medres/whatsapp-gateway/internal/wa"
)

// recipientPattern accepts bare numbers with common formatting, optionally
// already carrying a chat suffix (@c.us for direct, @g.us for group).
var recipientPattern = regexp.MustCompile(`^\+?[0-9\s\-().]+(@[cg]\.us)?$`)

type GatewayHandler struct {
	registry    *wa.Registry
	archiveRepo repository.MessageArchiveRepository // nil when archiving is disabled
	sendLimiter func(http.Handler) http.Handler
}

func NewGatewayHandler(
	registry *wa.Registry,
	archiveRepo repository.MessageArchiveRepository,
	sendLimiter func(http.Handler) http.Handler,
) *GatewayHandler {
	return &GatewayHandler{
		registry:    registry,
		archiveRepo: archiveRepo,
		sendLimiter: sendLimiter,
	}
}

func (h *GatewayHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/connections", h.ListConnections)
	r.Post("/disconnect-all", h.DisconnectAll)

	r.Route("/{organizationID}", func(r chi.Router) {
		r.Get("/status", h.GetStatus)
		r.Get("/qr", h.GetQR)
		r.Post("/connect", h.Connect)
		r.Post("/disconnect", h.Disconnect)
		r.Post("/reconnect", h.Reconnect)
		r.Get("/contacts", h.GetContacts)
		r.Get("/messages", h.GetMessages)
		r.Get("/archive", h.GetArchivedMessages)

		send := r.With()
		if h.sendLimiter != nil {
			send = r.With(h.sendLimiter)
		}
		send.Post("/send", h.SendMessage)
	})

	return r
}

// GET /connections
func (h *GatewayHandler) ListConnections(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    h.registry.GetAllConnections(),
	})
}

// POST /disconnect-all
func (h *GatewayHandler) DisconnectAll(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.DisconnectAll(r.Context()); err != nil {
		log.Error().Err(err).Msg("failed to disconnect all")
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"success": true})
}

// GET /{organizationID}/status
func (h *GatewayHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	organizationID := chi.URLParam(r, "organizationID")
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    h.registry.GetConnectionStatus(organizationID),
	})
}

// GET /{organizationID}/qr
func (h *GatewayHandler) GetQR(w http.ResponseWriter, r *http.Request) {
	organizationID := chi.URLParam(r, "organizationID")

	qr := h.registry.GetQRCode(organizationID)
	if qr == "" {
		httputil.WriteError(w, apperrors.NotFound("QR code"))
		return
	}

	response := map[string]any{
		"success": true,
		"qr":      qr,
	}

	// Web clients drop the data URL straight into an <img>; the raw payload
	// stays available for clients that render their own code.
	qrImage, err := wa.DataURLQR(qr)
	if err != nil {
		log.Error().Err(err).Str("organizationId", organizationID).Msg("qr image render failed")
	} else {
		response["qrImage"] = qrImage
	}

	httputil.WriteJSON(w, http.StatusOK, response)
}

// POST /{organizationID}/connect
func (h *GatewayHandler) Connect(w http.ResponseWriter, r *http.Request) {
	organizationID := chi.URLParam(r, "organizationID")

	if err := h.registry.Connect(r.Context(), organizationID); err != nil {
		log.Error().Err(err).Str("organizationId", organizationID).Msg("connect failed")
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    h.registry.GetConnectionStatus(organizationID),
	})
}

// POST /{organizationID}/disconnect
func (h *GatewayHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	organizationID := chi.URLParam(r, "organizationID")

	if err := h.registry.Disconnect(r.Context(), organizationID); err != nil {
		log.Error().Err(err).Str("organizationId", organizationID).Msg("disconnect failed")
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{"success": true})
}

// POST /{organizationID}/reconnect
func (h *GatewayHandler) Reconnect(w http.ResponseWriter, r *http.Request) {
	organizationID := chi.URLParam(r, "organizationID")

	if err := h.registry.Reconnect(r.Context(), organizationID); err != nil {
		log.Error().Err(err).Str("organizationId", organizationID).Msg("reconnect failed")
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{"success": true})
}

type sendRequest struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

// POST /{organizationID}/send
func (h *GatewayHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	organizationID := chi.URLParam(r, "organizationID")

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, apperrors.ValidationError("Invalid JSON body"))
		return
	}

	req.To = strings.TrimSpace(req.To)
	req.Message = strings.TrimSpace(req.Message)

	if req.To == "" {
		httputil.WriteError(w, apperrors.MissingRequired("to"))
		return
	}
	if req.Message == "" {
		httputil.WriteError(w, apperrors.MissingRequired("message"))
		return
	}
	if !recipientPattern.MatchString(req.To) {
		httputil.WriteError(w, apperrors.InvalidRecipient("unexpected characters in number"))
		return
	}
	if len(req.Message) > config.MaxMessageLength {
		httputil.WriteError(w, apperrors.MessageTooLong(config.MaxMessageLength))
		return
	}

	ok, err := h.registry.SendMessage(r.Context(), organizationID, req.To, req.Message)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	// Delivery failures are retryable; they are a result, not an error.
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"success": ok})
}

// GET /{organizationID}/contacts
func (h *GatewayHandler) GetContacts(w http.ResponseWriter, r *http.Request) {
	organizationID := chi.URLParam(r, "organizationID")

	contacts := h.registry.GetContacts(organizationID)
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    contacts,
		"count":   len(contacts),
	})
}

// GET /{organizationID}/messages?limit=
func (h *GatewayHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	organizationID := chi.URLParam(r, "organizationID")

	limit, err := parseLimit(r, config.DefaultReadLimit)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	messages := h.registry.GetMessages(organizationID, limit)
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    messages,
		"count":   len(messages),
	})
}

// GET /{organizationID}/archive?limit=&offset=
func (h *GatewayHandler) GetArchivedMessages(w http.ResponseWriter, r *http.Request) {
	if h.archiveRepo == nil {
		httputil.WriteError(w, apperrors.NotFound("Message archive"))
		return
	}

	organizationID := chi.URLParam(r, "organizationID")

	limit, err := parseLimit(r, config.DefaultReadLimit)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	offset := 0
	if raw := r.URL.Query().Get("offset"); raw != "" {
		parsed, convErr := strconv.Atoi(raw)
		if convErr != nil || parsed < 0 {
			httputil.WriteError(w, apperrors.ValidationError(`Parameter "offset" must be a non-negative number`))
			return
		}
		offset = parsed
	}

	messages, dbErr := h.archiveRepo.FindByOrganizationID(r.Context(), organizationID, limit, offset)
	if dbErr != nil {
		log.Error().Err(dbErr).Str("organizationId", organizationID).Msg("archive query failed")
		httputil.WriteError(w, apperrors.Database(dbErr))
		return
	}

	total, dbErr := h.archiveRepo.CountByOrganizationID(r.Context(), organizationID)
	if dbErr != nil {
		log.Error().Err(dbErr).Str("organizationId", organizationID).Msg("archive count failed")
		httputil.WriteError(w, apperrors.Database(dbErr))
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    messages,
		"count":   len(messages),
		"total":   total,
	})
}

func parseLimit(r *http.Request, fallback int) (int, *apperrors.AppError) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback, nil
	}

	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 || limit > config.MaxReadLimit {
		return 0, apperrors.ValidationError(`Parameter "limit" must be a number between 1 and 1000`)
	}
	return limit, nil
}
