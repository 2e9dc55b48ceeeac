package rest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/zlnvch/fluxcanvas/apperror"
	"github.com/zlnvch/fluxcanvas/models"
	"github.com/zlnvch/fluxcanvas/service"
)

type Handler struct {
	Service        *service.Service
	MaxUploadBytes int64
}

func NewHandler(svc *service.Service, maxUploadBytes int64) *Handler {
	return &Handler{Service: svc, MaxUploadBytes: maxUploadBytes}
}

type userKey struct{}

// Mount registers the canvas routes on r. Discovery and badge counts are
// public; everything else needs a bearer token.
func (h *Handler) Mount(r chi.Router) {
	r.Get("/canvases", h.HandleDiscover)
	r.Get("/canvases/active", h.HandleActiveCounts)

	r.Group(func(r chi.Router) {
		r.Use(h.requireUser)

		r.Post("/canvases", h.HandleCreateCanvas)
		r.Get("/deeplink", h.HandleDeepLink)

		r.Route("/canvases/{canvasId}", func(r chi.Router) {
			r.Get("/", h.HandleOpenCanvas)
			r.Delete("/", h.HandleDeleteCanvas)

			r.Post("/like", h.HandleLike)
			r.Delete("/like", h.HandleLike)
			r.Post("/pages", h.HandleAddPage)
			r.Post("/pages/{pageIndex}/reflow", h.HandleReflow)
			r.Post("/export", h.HandleExport)

			r.Post("/invite", h.HandleRedeemInvite)
			r.Post("/access-requests", h.HandleRequestAccess)
			r.Post("/access-requests/{userId}/approve", h.HandleApproveRequest)
			r.Post("/access-requests/{userId}/deny", h.HandleDenyRequest)

			r.Post("/layers", h.HandleAddLayer)
			r.Post("/layers/image", h.HandleAddImageLayer)
			r.Patch("/layers/{layerId}", h.HandleUpdateLayer)
			r.Delete("/layers/{layerId}", h.HandleDeleteLayer)
		})
	})
}

func (h *Handler) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := h.Service.AuthenticateToken(r.Context(), h.getTokenFromAuthHeader(r))
		if err != nil {
			h.sendError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, user)))
	})
}

func userFrom(r *http.Request) models.User {
	user, _ := r.Context().Value(userKey{}).(models.User)
	return user
}

func (h *Handler) HandleDiscover(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			h.sendError(w, http.StatusBadRequest, "validation_error", "invalid limit")
			return
		}
		limit = n
	}

	canvases, err := h.Service.Discover(r.Context(), models.DiscoverySort(r.URL.Query().Get("sort")), limit)
	if err != nil {
		h.sendServiceError(w, "Discover", err)
		return
	}
	h.sendResponse(w, http.StatusOK, map[string]any{"canvases": canvases})
}

func (h *Handler) HandleActiveCounts(w http.ResponseWriter, r *http.Request) {
	ids := []string{}
	for _, id := range strings.Split(r.URL.Query().Get("ids"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}

	counts, err := h.Service.ActiveCounts(r.Context(), ids)
	if err != nil {
		h.sendServiceError(w, "ActiveCounts", err)
		return
	}
	h.sendResponse(w, http.StatusOK, map[string]any{"counts": counts})
}

func (h *Handler) HandleCreateCanvas(w http.ResponseWriter, r *http.Request) {
	var settings models.CanvasSettings
	if !h.decodeBody(w, r, &settings) {
		return
	}

	canvas, err := h.Service.CreateCanvas(r.Context(), userFrom(r), settings)
	if err != nil {
		h.sendServiceError(w, "CreateCanvas", err)
		return
	}
	h.sendResponse(w, http.StatusCreated, canvas)
}

func (h *Handler) HandleOpenCanvas(w http.ResponseWriter, r *http.Request) {
	access, err := h.Service.OpenCanvas(r.Context(), userFrom(r), chi.URLParam(r, "canvasId"))
	if err != nil {
		h.sendServiceError(w, "OpenCanvas", err)
		return
	}
	h.sendResponse(w, http.StatusOK, access)
}

func (h *Handler) HandleDeepLink(w http.ResponseWriter, r *http.Request) {
	access, err := h.Service.ResolveDeepLink(r.Context(), userFrom(r), r.URL.Query().Get("link"))
	if err != nil {
		h.sendServiceError(w, "ResolveDeepLink", err)
		return
	}
	h.sendResponse(w, http.StatusOK, access)
}

func (h *Handler) HandleDeleteCanvas(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.DeleteCanvas(r.Context(), userFrom(r), chi.URLParam(r, "canvasId")); err != nil {
		h.sendServiceError(w, "DeleteCanvas", err)
		return
	}
	h.sendSuccess(w)
}

func (h *Handler) HandleLike(w http.ResponseWriter, r *http.Request) {
	liked := r.Method == http.MethodPost
	if err := h.Service.ToggleLike(r.Context(), userFrom(r), chi.URLParam(r, "canvasId"), liked); err != nil {
		h.sendServiceError(w, "ToggleLike", err)
		return
	}
	h.sendSuccess(w)
}

func (h *Handler) HandleAddPage(w http.ResponseWriter, r *http.Request) {
	totalPages, err := h.Service.AddPage(r.Context(), userFrom(r), chi.URLParam(r, "canvasId"))
	if err != nil {
		h.sendServiceError(w, "AddPage", err)
		return
	}
	h.sendResponse(w, http.StatusOK, map[string]any{"success": true, "totalPages": totalPages})
}

type reflowRequest struct {
	Viewport *service.Viewport `json:"viewport,omitempty"`
}

func (h *Handler) HandleReflow(w http.ResponseWriter, r *http.Request) {
	pageIndex, err := strconv.Atoi(chi.URLParam(r, "pageIndex"))
	if err != nil {
		h.sendError(w, http.StatusBadRequest, "validation_error", "invalid page index")
		return
	}

	var req reflowRequest
	if r.ContentLength != 0 && !h.decodeBody(w, r, &req) {
		return
	}

	layers, err := h.Service.ReflowPage(r.Context(), userFrom(r), chi.URLParam(r, "canvasId"), pageIndex, req.Viewport)
	if err != nil {
		h.sendServiceError(w, "ReflowPage", err)
		return
	}
	h.sendResponse(w, http.StatusOK, map[string]any{"success": true, "layers": layers})
}

func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	data, contentType, ok := h.readImage(w, r)
	if !ok {
		return
	}

	url, err := h.Service.SetExportedImage(r.Context(), userFrom(r), chi.URLParam(r, "canvasId"), data, contentType)
	if err != nil {
		h.sendServiceError(w, "SetExportedImage", err)
		return
	}
	h.sendResponse(w, http.StatusOK, map[string]any{"success": true, "exportedImageUrl": url})
}

type inviteRequest struct {
	Code string `json:"code"`
}

func (h *Handler) HandleRedeemInvite(w http.ResponseWriter, r *http.Request) {
	var req inviteRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	if err := h.Service.RedeemInviteCode(r.Context(), userFrom(r), chi.URLParam(r, "canvasId"), req.Code); err != nil {
		h.sendServiceError(w, "RedeemInviteCode", err)
		return
	}
	h.sendSuccess(w)
}

func (h *Handler) HandleRequestAccess(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.RequestAccess(r.Context(), userFrom(r), chi.URLParam(r, "canvasId")); err != nil {
		h.sendServiceError(w, "RequestAccess", err)
		return
	}
	h.sendSuccess(w)
}

func (h *Handler) HandleApproveRequest(w http.ResponseWriter, r *http.Request) {
	err := h.Service.ApproveRequest(r.Context(), userFrom(r), chi.URLParam(r, "canvasId"), chi.URLParam(r, "userId"))
	if err != nil {
		h.sendServiceError(w, "ApproveRequest", err)
		return
	}
	h.sendSuccess(w)
}

func (h *Handler) HandleDenyRequest(w http.ResponseWriter, r *http.Request) {
	err := h.Service.DenyRequest(r.Context(), userFrom(r), chi.URLParam(r, "canvasId"), chi.URLParam(r, "userId"))
	if err != nil {
		h.sendServiceError(w, "DenyRequest", err)
		return
	}
	h.sendSuccess(w)
}

func (h *Handler) HandleAddLayer(w http.ResponseWriter, r *http.Request) {
	var req service.NewLayer
	if !h.decodeBody(w, r, &req) {
		return
	}

	layer, err := h.Service.AddLayer(r.Context(), userFrom(r), chi.URLParam(r, "canvasId"), req)
	if err != nil {
		h.sendServiceError(w, "AddLayer", err)
		return
	}
	h.sendResponse(w, http.StatusCreated, layer)
}

// HandleAddImageLayer takes a multipart form with the image file under "image"
// and the layer request as JSON under "layer".
func (h *Handler) HandleAddImageLayer(w http.ResponseWriter, r *http.Request) {
	data, contentType, ok := h.readImage(w, r)
	if !ok {
		return
	}

	var req service.NewLayer
	if err := json.Unmarshal([]byte(r.FormValue("layer")), &req); err != nil {
		h.sendError(w, http.StatusBadRequest, "validation_error", "invalid layer field")
		return
	}

	layer, err := h.Service.AddImageLayer(r.Context(), userFrom(r), chi.URLParam(r, "canvasId"), req, data, contentType)
	if err != nil {
		h.sendServiceError(w, "AddImageLayer", err)
		return
	}
	h.sendResponse(w, http.StatusCreated, layer)
}

func (h *Handler) HandleUpdateLayer(w http.ResponseWriter, r *http.Request) {
	var patch models.LayerPatch
	if !h.decodeBody(w, r, &patch) {
		return
	}

	layer, err := h.Service.UpdateLayer(r.Context(), userFrom(r), chi.URLParam(r, "canvasId"), chi.URLParam(r, "layerId"), patch)
	if err != nil {
		h.sendServiceError(w, "UpdateLayer", err)
		return
	}
	h.sendResponse(w, http.StatusOK, layer)
}

func (h *Handler) HandleDeleteLayer(w http.ResponseWriter, r *http.Request) {
	err := h.Service.DeleteLayer(r.Context(), userFrom(r), chi.URLParam(r, "canvasId"), chi.URLParam(r, "layerId"))
	if err != nil {
		h.sendServiceError(w, "DeleteLayer", err)
		return
	}
	h.sendSuccess(w)
}

// readImage reads the "image" part of a multipart upload, bounded by MaxUploadBytes.
func (h *Handler) readImage(w http.ResponseWriter, r *http.Request) ([]byte, string, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, h.MaxUploadBytes)
	if err := r.ParseMultipartForm(h.MaxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.sendError(w, http.StatusRequestEntityTooLarge, "validation_error", "image too large")
			return nil, "", false
		}
		h.sendError(w, http.StatusBadRequest, "validation_error", "invalid multipart form")
		return nil, "", false
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		h.sendError(w, http.StatusBadRequest, "validation_error", "missing image")
		return nil, "", false
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.sendError(w, http.StatusBadRequest, "validation_error", "unreadable image")
		return nil, "", false
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	return data, contentType, true
}

func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.sendError(w, http.StatusBadRequest, "validation_error", "invalid request body")
		return false
	}
	return true
}

// StatusFor maps a service error kind to its HTTP status.
func StatusFor(err error) int {
	switch apperror.Kind(err) {
	case "not_found":
		return http.StatusNotFound
	case "permission_denied":
		return http.StatusForbidden
	case "capacity_exceeded", "conflict":
		return http.StatusConflict
	case "transient":
		return http.StatusServiceUnavailable
	case "invalid_invite_code":
		return http.StatusUnprocessableEntity
	case "expired":
		return http.StatusGone
	case "validation_error":
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func (h *Handler) sendServiceError(w http.ResponseWriter, op string, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		log.Printf("%s failed: %v", op, err)
		h.sendError(w, status, "internal_error", "internal error")
		return
	}

	resp := errorResponse{Error: apperror.Kind(err), Message: err.Error()}
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		resp.Field = appErr.Field
	}
	h.sendResponse(w, status, resp)
}

func (h *Handler) sendError(w http.ResponseWriter, status int, kind, message string) {
	h.sendResponse(w, status, errorResponse{Error: kind, Message: message})
}

func (h *Handler) sendSuccess(w http.ResponseWriter) {
	h.sendResponse(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) sendResponse(w http.ResponseWriter, status int, resp any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

func (h *Handler) getTokenFromAuthHeader(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(authHeader, prefix) {
		return ""
	}
	return strings.TrimPrefix(authHeader, prefix)
}
