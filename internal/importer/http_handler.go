package importer

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/edusys/bulkimport/internal/auth"
	"github.com/edusys/bulkimport/internal/domain"
	"github.com/edusys/bulkimport/internal/export"
	"github.com/edusys/bulkimport/internal/repository"
	"github.com/edusys/bulkimport/internal/schema"
	"github.com/edusys/bulkimport/internal/tabular"
)

const maxUploadBytes = 32 << 20

// Handler exposes the import engine over HTTP.
type Handler struct {
	service       *Service
	registry      *schema.Registry
	history       repository.ImportHistoryRepository
	defaultPolicy domain.DuplicatePolicy
}

// NewHTTPHandler wires the import endpoints onto a chi router.
func NewHTTPHandler(service *Service, registry *schema.Registry, history repository.ImportHistoryRepository, defaultPolicy domain.DuplicatePolicy) http.Handler {
	h := &Handler{service: service, registry: registry, history: history, defaultPolicy: defaultPolicy}

	r := chi.NewRouter()
	r.Post("/imports", h.runImport)
	r.Get("/imports/history", h.listHistory)
	r.Get("/schemas", h.listSchemas)
	r.Get("/schemas/{entityType}", h.describeSchema)
	r.Get("/schemas/{entityType}/template", h.downloadTemplate)
	return r
}

func (h *Handler) runImport(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid form data: %v", err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("file required: %v", err))
		return
	}
	defer file.Close()

	entityType := strings.TrimSpace(r.FormValue("entityType"))
	if entityType == "" {
		writeError(w, http.StatusBadRequest, "entityType is required")
		return
	}

	policy := h.defaultPolicy
	if raw := strings.TrimSpace(r.FormValue("policy")); raw != "" {
		policy, err = domain.ParseDuplicatePolicy(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	var overrides map[string]string
	if raw := strings.TrimSpace(r.FormValue("overrides")); raw != "" {
		if err := json.Unmarshal([]byte(raw), &overrides); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid overrides: %v", err))
			return
		}
	}

	payload, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to read file: %v", err))
		return
	}

	table, err := tabular.Parse(header.Filename, payload)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var format export.Format
	if raw := strings.TrimSpace(r.FormValue("reportFormat")); raw != "" {
		format, err = export.ParseFormat(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	actor, _ := auth.ActorFromContext(r.Context())
	report, err := h.service.Run(r.Context(), Request{
		EntityType: entityType,
		Policy:     policy,
		Headers:    table.Headers,
		Rows:       table.Rows,
		Overrides:  overrides,
		FileName:   header.Filename,
		Actor:      actor,
	})
	if err != nil {
		var jobErr *domain.JobError
		if errors.As(err, &jobErr) {
			writeJSON(w, http.StatusUnprocessableEntity, jobErr)
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if format != "" {
		w.Header().Set("Content-Type", format.ContentType())
		w.Header().Set("Content-Disposition",
			fmt.Sprintf("attachment; filename=%q", "import-report."+string(format)))
		if err := export.WriteReport(w, report, format); err != nil {
			log.Printf("[HTTP] failed to stream report file: %v", err)
		}
		return
	}

	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) listHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusNotFound, "import history is not enabled")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	entityType := strings.TrimSpace(r.URL.Query().Get("entityType"))

	entries, err := h.history.List(r.Context(), entityType, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []domain.ImportHistory{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) listSchemas(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"entityTypes": h.registry.Entities()})
}

func (h *Handler) describeSchema(w http.ResponseWriter, r *http.Request) {
	entityType := chi.URLParam(r, "entityType")
	fields, err := h.registry.Describe(entityType)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entityType": entityType, "fields": fields})
}

func (h *Handler) downloadTemplate(w http.ResponseWriter, r *http.Request) {
	entityType := chi.URLParam(r, "entityType")
	fields, err := h.registry.Describe(entityType)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	format := export.FormatCSV
	if raw := strings.TrimSpace(r.URL.Query().Get("format")); raw != "" {
		format, err = export.ParseFormat(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", entityType+"-template."+string(format)))
	if err := export.WriteTemplate(w, fields, format); err != nil {
		log.Printf("[HTTP] failed to stream template file: %v", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
