package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/otcheredev/manifest-connector/internal/database"
	"github.com/otcheredev/manifest-connector/internal/models"
	"github.com/otcheredev/manifest-connector/internal/repository"
	"github.com/otcheredev/manifest-connector/pkg/dimse"
)

type ConnectorsHandler struct {
	repo       *repository.ConnectorRepository
	tenants    *database.TenantRegistry
	callingAET string
}

func NewConnectorsHandler(repo *repository.ConnectorRepository, tenants *database.TenantRegistry, callingAET string) *ConnectorsHandler {
	return &ConnectorsHandler{
		repo:       repo,
		tenants:    tenants,
		callingAET: callingAET,
	}
}

// List returns all active connectors in dispatch order
func (h *ConnectorsHandler) List(w http.ResponseWriter, r *http.Request) {
	connectors, err := h.repo.GetAllActive(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list connectors")
		http.Error(w, "Failed to list connectors", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(connectors)
}

// Get returns a single connector
func (h *ConnectorsHandler) Get(w http.ResponseWriter, r *http.Request) {
	conn, err := h.repo.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Connector not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(conn)
}

// Create registers a new connector
func (h *ConnectorsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var conn models.Connector
	if err := json.NewDecoder(r.Body).Decode(&conn); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := validateConnector(&conn); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.repo.Create(r.Context(), &conn); err != nil {
		log.Error().Err(err).Msg("Failed to create connector")
		http.Error(w, "Failed to create connector", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(conn)
}

// Update replaces a connector's configuration
func (h *ConnectorsHandler) Update(w http.ResponseWriter, r *http.Request) {
	conn, err := h.repo.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Connector not found", http.StatusNotFound)
		return
	}

	if err := json.NewDecoder(r.Body).Decode(conn); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := validateConnector(conn); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.repo.Update(r.Context(), conn); err != nil {
		log.Error().Err(err).Msg("Failed to update connector")
		http.Error(w, "Failed to update connector", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(conn)
}

// Delete removes a connector
func (h *ConnectorsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		log.Error().Err(err).Msg("Failed to delete connector")
		http.Error(w, "Failed to delete connector", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type testResponse struct {
	Connected bool   `json:"connected"`
	Detail    string `json:"detail,omitempty"`
}

// Test probes a connector's backing archive: C-ECHO for DIMSE archives,
// an HTTP round trip for QIDO-RS archives, a ping for SQL tenants.
func (h *ConnectorsHandler) Test(w http.ResponseWriter, r *http.Request) {
	conn, err := h.repo.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Connector not found", http.StatusNotFound)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	response := testResponse{Connected: true}
	if err := h.probe(ctx, conn); err != nil {
		log.Warn().Err(err).Str("connector", conn.ID).Msg("Connector test failed")
		response = testResponse{Connected: false, Detail: err.Error()}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func (h *ConnectorsHandler) probe(ctx context.Context, conn *models.Connector) error {
	switch conn.Kind {
	case models.KindDICOM:
		if conn.DICOM == nil {
			return fmt.Errorf("connector has no DICOM settings")
		}
		callingAET := conn.DICOM.CallingAET
		if callingAET == "" {
			callingAET = h.callingAET
		}
		assoc := dimse.NewAssociation(dimse.AssociationConfig{
			Host:       conn.DICOM.Host,
			Port:       conn.DICOM.Port,
			CallingAET: callingAET,
			CalledAET:  conn.DICOM.AETitle,
		})
		if err := assoc.Connect(ctx); err != nil {
			return err
		}
		defer assoc.Close()
		return assoc.CEcho(ctx)

	case models.KindDICOMWeb:
		if conn.Web == nil {
			return fmt.Errorf("connector has no DICOMWeb settings")
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, conn.Web.QIDOURL+"/studies?limit=1", nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/dicom+json")
		if conn.Web.Username != "" {
			req.SetBasicAuth(conn.Web.Username, conn.Web.Password)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			return fmt.Errorf("QIDO endpoint returned %s", resp.Status)
		}
		return nil

	case models.KindSQL:
		if conn.SQL == nil {
			return fmt.Errorf("connector has no SQL settings")
		}
		db, err := h.tenants.Handle(conn.SQL.Tenant)
		if err != nil {
			return err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)

	default:
		return fmt.Errorf("unknown connector kind %q", conn.Kind)
	}
}

func validateConnector(conn *models.Connector) error {
	switch conn.Kind {
	case models.KindSQL:
		if conn.SQL == nil || conn.SQL.Tenant == "" || conn.SQL.RecordView == "" {
			return fmt.Errorf("SQL connector requires tenant and record view")
		}
	case models.KindDICOM:
		if conn.DICOM == nil || conn.DICOM.Host == "" || conn.DICOM.AETitle == "" {
			return fmt.Errorf("DICOM connector requires host and AE title")
		}
	case models.KindDICOMWeb:
		if conn.Web == nil || conn.Web.QIDOURL == "" {
			return fmt.Errorf("DICOMWeb connector requires a QIDO-RS URL")
		}
	default:
		return fmt.Errorf("unknown connector kind %q", conn.Kind)
	}
	return nil
}
