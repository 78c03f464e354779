package idp

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/pandolabs/mockidp/pkg/directory"
	"github.com/pandolabs/mockidp/pkg/httputil"
	"github.com/pandolabs/mockidp/pkg/identity"
	"github.com/pandolabs/mockidp/pkg/observability"
)

// Handlers exposes the identity provider over HTTP
type Handlers struct {
	svc      *Service
	profiles *ProfileDiscoverer
	logger   *observability.Logger
}

// NewHandlers creates the HTTP surface for the service. profiles may be nil
// to disable the profile discovery endpoint.
func NewHandlers(svc *Service, profiles *ProfileDiscoverer, logger *observability.Logger) *Handlers {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Handlers{
		svc:      svc,
		profiles: profiles,
		logger:   logger,
	}
}

func (h *Handlers) requestLogger(r *http.Request) *observability.Logger {
	logger := h.logger
	if requestID := observability.GetRequestID(r.Context()); requestID != "" {
		logger = logger.WithField("request_id", requestID)
	}
	return logger
}

// RegisterRoutes registers the identity provider routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/saml/auth", h.issueAssertion).Methods("POST")
	router.HandleFunc("/api/saml/resolve", h.resolveIdentity).Methods("POST")
	router.HandleFunc("/api/saml/metadata", h.metadata).Methods("GET")
	if h.profiles != nil {
		router.HandleFunc("/api/profile-identifier", h.profileIdentifier).Methods("GET")
	}
}

type resolveRequest struct {
	Email string `json:"email"`
}

type resolveResponse struct {
	Success   bool               `json:"success"`
	SubjectID *string            `json:"subjectId"`
	Identity  *identity.Identity `json:"identity,omitempty"`
}

// resolveIdentity handles POST /api/saml/resolve
func (h *Handlers) resolveIdentity(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	res, err := h.svc.Resolve(r.Context(), req.Email)
	if err != nil {
		var validationErr *ValidationError
		switch {
		case errors.As(err, &validationErr):
			httputil.WriteValidationError(w, validationErr.Message)
		case errors.Is(err, ErrNotFound):
			httputil.WriteJSON(w, http.StatusNotFound, resolveResponse{Success: false})
		case directory.IsLookupFailure(err):
			h.requestLogger(r).WithError(err).Error("directory lookup failed")
			httputil.WriteJSON(w, http.StatusBadGateway, resolveResponse{Success: false})
		default:
			httputil.WriteInternalError(w, err)
		}
		return
	}

	httputil.WriteSuccess(w, resolveResponse{
		Success:   true,
		SubjectID: &res.SubjectID,
		Identity:  &res.Identity,
	})
}

// issueAssertion handles POST /api/saml/auth
func (h *Handlers) issueAssertion(w http.ResponseWriter, r *http.Request) {
	var req IssueRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	result, err := h.svc.Issue(r.Context(), req)
	if err != nil {
		logger := h.requestLogger(r).WithError(err)
		var (
			validationErr *ValidationError
			deniedErr     *AccessDeniedError
			signerErr     *SignerError
		)
		switch {
		case errors.As(err, &validationErr):
			httputil.WriteValidationError(w, validationErr.Message)
		case errors.As(err, &deniedErr):
			logger.Warn("issuance denied by domain allow-list")
			httputil.WriteForbidden(w, "access denied")
		case errors.As(err, &signerErr):
			logger.Error("assertion signing failed")
			httputil.WriteBadGateway(w, "failed to sign assertion")
		default:
			logger.Error("issuance failed")
			httputil.WriteInternalError(w, err)
		}
		return
	}

	if !result.Issued {
		http.Redirect(w, r, result.RedirectURL, http.StatusFound)
		return
	}
	httputil.WriteHTML(w, http.StatusOK, result.Document)
}

// metadata handles GET /api/saml/metadata
func (h *Handlers) metadata(w http.ResponseWriter, r *http.Request) {
	doc, err := h.svc.Metadata()
	if err != nil {
		h.requestLogger(r).WithError(err).Error("metadata rendering failed")
		httputil.WriteBadGateway(w, "metadata unavailable")
		return
	}

	if download, _ := httputil.ParseQueryBool(r, "download", false); download {
		w.Header().Set("Content-Disposition", `attachment; filename="metadata.xml"`)
	}
	httputil.WriteXML(w, http.StatusOK, doc)
}

type profileIdentifierResponse struct {
	ProfileIdentifier *string `json:"profileIdentifier"`
	ProfileOutput     string  `json:"profileOutput"`
	Success           bool    `json:"success"`
}

// profileIdentifier handles GET /api/profile-identifier
func (h *Handlers) profileIdentifier(w http.ResponseWriter, r *http.Request) {
	identifier, raw := h.profiles.Discover(r.Context())

	resp := profileIdentifierResponse{ProfileOutput: raw, Success: true}
	if identifier != "" {
		resp.ProfileIdentifier = &identifier
	}
	httputil.WriteSuccess(w, resp)
}
