package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"
	"github.com/ory/herodot"

	"rag-chatbot/internal/auth"
	apperrors "rag-chatbot/internal/errors"
	"rag-chatbot/internal/logging"
	"rag-chatbot/internal/models"
	"rag-chatbot/internal/provider"
	"rag-chatbot/internal/stream"
)

// MaxAudioSize bounds uploaded recordings.
const MaxAudioSize = 25 << 20

const (
	defaultSearchLimit  = 100
	defaultSearchRadius = 0.8
)

type tenantHandler struct {
	server   *Server
	name     string
	provider provider.Provider
	template models.Template
}

func (h *tenantHandler) decodeQuery(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req models.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.server.writer.WriteError(w, r, herodot.ErrBadRequest.WithReason("Invalid request body"))
		return "", false
	}
	return req.UserMessage, true
}

func (h *tenantHandler) answer(w http.ResponseWriter, r *http.Request) {
	query, ok := h.decodeQuery(w, r)
	if !ok {
		return
	}

	answer, err := h.provider.AnswerQuery(r.Context(), query)
	if err != nil {
		h.server.writeError(w, r, err)
		return
	}
	h.server.writer.Write(w, r, answer)
}

func (h *tenantHandler) answerStream(w http.ResponseWriter, r *http.Request) {
	query, ok := h.decodeQuery(w, r)
	if !ok {
		return
	}

	logger := logging.Component("api").WithField("tenant", h.name).
		WithField("request_id", RequestIDFromContext(r.Context()))
	logger.WithField("query", query).Debug("streaming answer")

	stream.SetHeaders(w.Header())
	w.WriteHeader(http.StatusOK)

	n, err := stream.WriteSSE(w, stream.Events(h.provider.AnswerQueryStream(r.Context(), query)))
	if err != nil {
		logger.WithError(err).WithField("events", n).Info("client disconnected during stream")
		return
	}
	logger.WithField("events", n).Debug("stream finished")
}

// answerWebSocket serves the same event sequence as answerStream, one text
// message per event, for every question received on the connection.
func (h *tenantHandler) answerWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.server.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied
		return
	}
	defer func() { _ = conn.Close() }()

	logger := logging.Component("api").WithField("tenant", h.name)

	for {
		var req models.QueryRequest
		if err := conn.ReadJSON(&req); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.WithError(err).Debug("websocket read ended")
			}
			return
		}

		for e := range stream.Events(h.provider.AnswerQueryStream(r.Context(), req.UserMessage)) {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(e.Payload())); err != nil {
				logger.WithError(err).Info("websocket write failed")
				return
			}
		}
	}
}

func (h *tenantHandler) faqs(w http.ResponseWriter, r *http.Request) {
	faqs, err := h.provider.GetFAQs(r.Context())
	if err != nil {
		h.server.writeError(w, r, err)
		return
	}
	h.server.writer.Write(w, r, faqs)
}

func (h *tenantHandler) translateFAQs(w http.ResponseWriter, r *http.Request) {
	lang := r.URL.Query().Get("lang")
	if lang == "" {
		lang = "en"
	}

	faqs, err := h.provider.TranslateFAQs(r.Context(), lang)
	if err != nil {
		h.server.writeError(w, r, err)
		return
	}
	h.server.writer.Write(w, r, faqs)
}

func (h *tenantHandler) transcribe(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxAudioSize)
	if err := r.ParseMultipartForm(MaxAudioSize); err != nil {
		h.server.writer.WriteError(w, r, herodot.ErrBadRequest.WithReason("Invalid multipart upload"))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.server.writer.WriteError(w, r, herodot.ErrBadRequest.WithReason("Missing audio file"))
		return
	}
	defer func() { _ = file.Close() }()

	text, err := h.provider.TranscribeAudio(r.Context(), models.Audio{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        file,
	})
	if err != nil {
		h.server.writeError(w, r, err)
		return
	}
	h.server.writer.Write(w, r, &models.TranscriptionResponse{Transcription: text})
}

func (h *tenantHandler) templateInfo(w http.ResponseWriter, r *http.Request) {
	t := h.template
	t.APIBaseURL = "/" + h.name + "/api"
	h.server.writer.Write(w, r, &t)
}

func (h *tenantHandler) dataSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	query := q.Get("query")
	if query == "" {
		h.server.writeError(w, r, apperrors.ErrInvalidInput.WithMessage("query is required"))
		return
	}

	limit := defaultSearchLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			h.server.writeError(w, r, apperrors.ErrInvalidInput.WithMessage("limit must be a positive integer"))
			return
		}
		limit = n
	}

	radius := defaultSearchRadius
	if v := q.Get("radius"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			h.server.writeError(w, r, apperrors.ErrInvalidInput.WithMessage("radius must be a number"))
			return
		}
		radius = f
	}

	result, err := h.provider.SearchData(r.Context(), query, limit, radius)
	if err != nil {
		h.server.writeError(w, r, err)
		return
	}
	h.server.writer.Write(w, r, result)
}

func (h *tenantHandler) deleteDocument(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	user, _ := auth.GetUserFromContext(r.Context())

	result, err := h.provider.DeleteDocument(r.Context(), id)
	if err != nil {
		h.server.writeError(w, r, err)
		return
	}

	logging.Component("api").WithField("tenant", h.name).WithField("user", user).
		WithField("id", id).Info("document deleted")
	h.server.writer.Write(w, r, result)
}

func (h *tenantHandler) deleteAllDocuments(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.GetUserFromContext(r.Context())

	result, err := h.provider.DeleteAllDocuments(r.Context())
	if err != nil {
		h.server.writeError(w, r, err)
		return
	}

	logging.Component("api").WithField("tenant", h.name).WithField("user", user).
		WithField("total", result.TotalDeleted).Info("all documents deleted")
	h.server.writer.Write(w, r, result)
}
