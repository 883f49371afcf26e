package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/otcheredev/manifest-connector/internal/cache"
	"github.com/otcheredev/manifest-connector/internal/dispatcher"
	"github.com/otcheredev/manifest-connector/internal/manifest"
	"github.com/otcheredev/manifest-connector/internal/middleware"
	"github.com/otcheredev/manifest-connector/internal/models"
)

type ManifestHandler struct {
	coordinator *manifest.Coordinator
}

func NewManifestHandler(coordinator *manifest.Coordinator) *ManifestHandler {
	return &ManifestHandler{coordinator: coordinator}
}

type buildResponse struct {
	Fingerprint string `json:"fingerprint"`
}

// Build accepts search criteria and returns the fingerprint under which the
// manifest is, or will become, available. The build itself runs in the
// background; clients poll Get with the returned fingerprint.
func (h *ManifestHandler) Build(w http.ResponseWriter, r *http.Request) {
	var criteria models.SearchCriteria
	if err := json.NewDecoder(r.Body).Decode(&criteria); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if criteria.IsEmpty() {
		http.Error(w, "At least one search field is required", http.StatusBadRequest)
		return
	}

	identity := middleware.GetIdentity(r.Context())

	fingerprint, err := h.coordinator.ResolveOrBuild(r.Context(), criteria, identity)
	if err != nil {
		if dispatcher.IsConfigError(err) {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		log.Error().Err(err).Msg("Failed to resolve manifest")
		http.Error(w, "Failed to resolve manifest", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(buildResponse{Fingerprint: fingerprint})
}

// Get returns the manifest stored under a fingerprint. While the build is
// running the manifest carries build_in_progress true and no patients.
func (h *ManifestHandler) Get(w http.ResponseWriter, r *http.Request) {
	fingerprint := chi.URLParam(r, "fingerprint")
	if fingerprint == "" {
		http.Error(w, "Fingerprint is required", http.StatusBadRequest)
		return
	}

	m, err := h.coordinator.GetManifest(r.Context(), fingerprint)
	if err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			http.Error(w, "Manifest not found", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Str("fingerprint", fingerprint).Msg("Failed to load manifest")
		http.Error(w, "Failed to load manifest", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(m)
}
