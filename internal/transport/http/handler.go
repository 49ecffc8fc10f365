package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"OpportunitiesService/internal/listing"
	"OpportunitiesService/internal/model"
	"OpportunitiesService/internal/service"
)

// Сообщения об ошибках, которые видит оператор
const (
	MsgUploadFailed  = "Failed to upload image"
	MsgNotFoundEdit  = "Opportunity not found"
	MsgUpdateFailed  = "Failed to update opportunity"
	MsgCreateFailed  = "Failed to create opportunity"
	MsgNotFound      = "Not found"
	MsgDeleteFailed  = "Failed to delete DB row"
	MsgListFailed    = "Failed to load opportunities"
	MsgInvalidForm   = "Invalid form data"
	MsgInvalidBody   = "Invalid request body"
	MsgFileTooLarge  = "Image is too large"
	defaultMaxUpload = 10 << 20
)

// OpportunitiesService задаёт бизнес-логику, используемую хендлером
type OpportunitiesService interface {
	Submit(ctx context.Context, in model.SubmitInput) (*model.Opportunity, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, query string) ([]model.Opportunity, error)
}

// Listing: источник публичного списка (listing.Synchronizer)
type Listing interface {
	Snapshot() listing.Snapshot
	Watch(ctx context.Context) <-chan listing.Snapshot
}

// ReadinessCheck проверяет одну зависимость сервиса
type ReadinessCheck func(ctx context.Context) error

// Handler реализует HTTP-эндпоинты сервиса
type Handler struct {
	srv       OpportunitiesService
	listing   Listing
	maxUpload int64
	checks    map[string]ReadinessCheck
	logger    zerolog.Logger
}

// NewHandler создаёт Handler. maxUpload <= 0 означает 10 МБ
func NewHandler(srv OpportunitiesService, lst Listing, maxUpload int64, logger zerolog.Logger) *Handler {
	if maxUpload <= 0 {
		maxUpload = defaultMaxUpload
	}
	return &Handler{
		srv:       srv,
		listing:   lst,
		maxUpload: maxUpload,
		checks:    map[string]ReadinessCheck{},
		logger:    logger,
	}
}

// AddReadinessCheck добавляет проверку для /readyz
func (h *Handler) AddReadinessCheck(name string, check ReadinessCheck) {
	h.checks[name] = check
}

// RegisterRoutes регистрирует маршруты API
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/healthz", h.Healthz).Methods("GET")
	r.HandleFunc("/readyz", h.Readyz).Methods("GET")
	r.HandleFunc("/api/admins/opportunities", h.Submit).Methods("POST")
	r.HandleFunc("/api/admins/opportunities", h.AdminList).Methods("GET")
	r.HandleFunc("/api/admins/opportunities-delete", h.Delete).Methods("POST")
	r.HandleFunc("/api/opportunities", h.PublicList).Methods("GET")
	r.HandleFunc("/ws/opportunities", h.Live).Methods("GET")
}

// Response: конверт ответов административного API
type Response struct {
	Success     bool               `json:"success"`
	Opportunity *model.Opportunity `json:"opportunity,omitempty"`
	Error       string             `json:"error,omitempty"`
}

// ListResponse: ответ GET /api/admins/opportunities
type ListResponse struct {
	Success       bool                `json:"success"`
	Opportunities []model.Opportunity `json:"opportunities"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, Response{Success: false, Error: msg})
}

// Submit обрабатывает POST /api/admins/opportunities (multipart)
// Поля: position, description, link, isEdit, id, image
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, MsgFileTooLarge)
			return
		}
		writeError(w, http.StatusBadRequest, MsgInvalidForm)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	in := model.SubmitInput{
		Position:    r.FormValue("position"),
		Description: r.FormValue("description"),
		Link:        r.FormValue("link"),
		IsEdit:      strings.EqualFold(r.FormValue("isEdit"), "true"),
		ID:          r.FormValue("id"),
	}
	file, hdr, err := r.FormFile("image")
	switch {
	case err == nil:
		defer file.Close()
		// пустое поле файла браузер присылает как часть нулевой длины
		if hdr.Size > 0 {
			in.Image = &model.ImageFile{
				Name:        hdr.Filename,
				ContentType: hdr.Header.Get("Content-Type"),
				Size:        hdr.Size,
				Reader:      file,
			}
		}
	case !errors.Is(err, http.ErrMissingFile):
		writeError(w, http.StatusBadRequest, MsgInvalidForm)
		return
	}

	o, err := h.srv.Submit(r.Context(), in)
	if err != nil {
		status, msg := submitError(err, in.IsEdit)
		if status >= http.StatusInternalServerError {
			h.logger.Error().Err(err).Bool("isEdit", in.IsEdit).Str("id", in.ID).Msg("не удалось сохранить opportunity")
		}
		writeError(w, status, msg)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Opportunity: o})
}

// submitError сопоставляет ошибку сервиса со статусом и текстом ответа
func submitError(err error, isEdit bool) (int, string) {
	switch {
	case errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest, validationMessage(err)
	case errors.Is(err, service.ErrUpload):
		return http.StatusInternalServerError, MsgUploadFailed
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound, MsgNotFoundEdit
	case isEdit:
		return http.StatusInternalServerError, MsgUpdateFailed
	default:
		return http.StatusInternalServerError, MsgCreateFailed
	}
}

func validationMessage(err error) string {
	var ve *model.ValidationError
	if errors.As(err, &ve) {
		return ve.Message
	}
	return err.Error()
}

// Delete обрабатывает POST /api/admins/opportunities-delete с телом {"id": ...}
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, MsgInvalidBody)
		return
	}
	err := h.srv.Delete(r.Context(), req.ID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, Response{Success: true})
	case errors.Is(err, service.ErrValidation):
		writeError(w, http.StatusBadRequest, validationMessage(err))
	case errors.Is(err, service.ErrNotFound):
		writeError(w, http.StatusNotFound, MsgNotFound)
	default:
		h.logger.Error().Err(err).Str("id", req.ID).Msg("не удалось удалить opportunity")
		writeError(w, http.StatusInternalServerError, MsgDeleteFailed)
	}
}

// AdminList обрабатывает GET /api/admins/opportunities?q=
func (h *Handler) AdminList(w http.ResponseWriter, r *http.Request) {
	list, err := h.srv.List(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		h.logger.Error().Err(err).Msg("не удалось получить список opportunities")
		writeError(w, http.StatusInternalServerError, MsgListFailed)
		return
	}
	if list == nil {
		list = []model.Opportunity{}
	}
	writeJSON(w, http.StatusOK, ListResponse{Success: true, Opportunities: list})
}

// PublicList обрабатывает GET /api/opportunities: текущий снимок синхронизатора
func (h *Handler) PublicList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.listing.Snapshot())
}

// Healthz возвращает статус работы сервиса
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz проверяет зависимости; при первой же ошибке отвечает 503
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.Warn().Err(err).Str("check", name).Msg("сервис не готов")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready", "failed": name})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
