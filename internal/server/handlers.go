package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gatekeep-io/gatekeep/internal/approval"
	"github.com/gatekeep-io/gatekeep/internal/engine"
	"github.com/gatekeep-io/gatekeep/internal/rbac"
	"github.com/gatekeep-io/gatekeep/internal/requestctx"
	"github.com/gatekeep-io/gatekeep/internal/retrieval"
	"github.com/gatekeep-io/gatekeep/internal/store"
	"github.com/gatekeep-io/gatekeep/internal/tools"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
}

// identity resolves the authenticated user plus their project scope.
// projectID 0 means the caller's default project, which is created on first
// use. Any other project requires membership in its org.
func (s *Server) identity(r *http.Request, projectID int64) (requestctx.Identity, error) {
	ident, ok := requestctx.IdentityFrom(r.Context())
	if !ok {
		return requestctx.Identity{}, errors.New("no authenticated identity")
	}
	if projectID == 0 {
		id, err := s.store.EnsureDefaultProject(r.Context(), ident.Username)
		if err != nil {
			return requestctx.Identity{}, err
		}
		ident.ProjectID = id
		return ident, nil
	}
	member, err := s.store.IsMember(r.Context(), ident.Username, projectID)
	if err != nil {
		return requestctx.Identity{}, err
	}
	if !member {
		return requestctx.Identity{}, errNotMember
	}
	ident.ProjectID = projectID
	return ident, nil
}

var errNotMember = errors.New("not a member of this project")

func (s *Server) resolveOrReject(w http.ResponseWriter, r *http.Request, projectID int64) (requestctx.Identity, bool) {
	ident, err := s.identity(r, projectID)
	if err != nil {
		if errors.Is(err, errNotMember) {
			writeError(w, http.StatusForbidden, "forbidden", "Not a member of this project")
		} else {
			writeError(w, http.StatusInternalServerError, "internal", err.Error())
		}
		return requestctx.Identity{}, false
	}
	return ident, true
}

func queryProjectID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(r.URL.Query().Get("project_id"), 10, 64)
	return id
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.startTime).String(),
	})
}

type turnRequest struct {
	ProjectID int64              `json:"project_id"`
	Message   string             `json:"message"`
	Options   engine.TurnOptions `json:"options"`
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	var req turnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "message is required")
		return
	}
	ident, ok := s.resolveOrReject(w, r, req.ProjectID)
	if !ok {
		return
	}

	resp, err := s.engine.Turn(r.Context(), ident, engine.TurnRequest{
		Message: req.Message,
		Options: req.Options,
	})
	if err != nil {
		log.Error().Err(err).Msg("turn failed")
		writeError(w, http.StatusInternalServerError, "internal", "turn failed")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleApprovalsList(w http.ResponseWriter, r *http.Request) {
	ident, ok := s.resolveOrReject(w, r, queryProjectID(r))
	if !ok {
		return
	}
	list, err := s.approvals.List(r.Context(), ident.ProjectID, r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"approvals": list, "count": len(list)})
}

func approvalID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

type decideRequest struct {
	ProjectID int64  `json:"project_id"`
	Notes     string `json:"notes"`
}

func (s *Server) decideApproval(w http.ResponseWriter, r *http.Request, approve bool) {
	id, err := approvalID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid approval id")
		return
	}
	var req decideRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	ident, ok := s.resolveOrReject(w, r, req.ProjectID)
	if !ok {
		return
	}

	a, err := s.engine.DecideApproval(r.Context(), ident, id, approve, req.Notes)
	if err != nil {
		writeApprovalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleApprovalApprove(w http.ResponseWriter, r *http.Request) {
	s.decideApproval(w, r, true)
}

func (s *Server) handleApprovalDeny(w http.ResponseWriter, r *http.Request) {
	s.decideApproval(w, r, false)
}

func (s *Server) handleApprovalExecute(w http.ResponseWriter, r *http.Request) {
	id, err := approvalID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid approval id")
		return
	}
	var req decideRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	ident, ok := s.resolveOrReject(w, r, req.ProjectID)
	if !ok {
		return
	}

	result, err := s.engine.ExecuteApproval(r.Context(), ident, id)
	if err != nil {
		writeApprovalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "executed", "result": result})
}

func writeApprovalError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrNotAdmin):
		writeError(w, http.StatusForbidden, "forbidden", "Admin role required")
	case errors.Is(err, approval.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "Approval not found")
	case errors.Is(err, approval.ErrWrongState):
		writeError(w, http.StatusConflict, "wrong_state", "Approval is not in the required state")
	default:
		writeError(w, http.StatusUnprocessableEntity, "execution_failed", err.Error())
	}
}

func (s *Server) handleAuditList(w http.ResponseWriter, r *http.Request) {
	ident, ok := s.resolveOrReject(w, r, queryProjectID(r))
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	events, err := s.ledger.List(r.Context(), ident.ProjectID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}

func (s *Server) handleAuditVerify(w http.ResponseWriter, r *http.Request) {
	ident, ok := s.resolveOrReject(w, r, queryProjectID(r))
	if !ok {
		return
	}
	result, err := s.ledger.Verify(r.Context(), ident.ProjectID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type purgeRequest struct {
	ProjectID     int64 `json:"project_id"`
	RetentionDays int   `json:"retention_days"`
}

func (s *Server) handleAuditPurge(w http.ResponseWriter, r *http.Request) {
	var req purgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON: "+err.Error())
		return
	}
	ident, ok := s.resolveOrReject(w, r, req.ProjectID)
	if !ok {
		return
	}
	if !rbac.CanDecideApprovals(s.policy, ident.Role) {
		writeError(w, http.StatusForbidden, "forbidden", "Admin role required")
		return
	}
	days := req.RetentionDays
	if days == 0 {
		days = s.retentionDays
	}
	deleted, err := s.ledger.Purge(r.Context(), ident.ProjectID, days)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": deleted, "retention_days": days})
}

type kbIngestRequest struct {
	ProjectID  int64  `json:"project_id"`
	DocID      string `json:"doc_id"`
	Title      string `json:"title"`
	Text       string `json:"text"`
	Tags       string `json:"tags"`
	TrustLevel string `json:"trust_level"`
	Source     string `json:"source"`
}

func (s *Server) handleKBIngest(w http.ResponseWriter, r *http.Request) {
	var req kbIngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Title) == "" || strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "title and text are required")
		return
	}
	if req.TrustLevel != retrieval.TrustTrusted && req.TrustLevel != retrieval.TrustUntrusted {
		writeError(w, http.StatusBadRequest, "invalid_request", "trust_level must be trusted or untrusted")
		return
	}
	ident, ok := s.resolveOrReject(w, r, req.ProjectID)
	if !ok {
		return
	}

	docID := req.DocID
	if docID == "" {
		docID = uuid.NewString()
	}
	source := req.Source
	if source == "" {
		source = "api"
	}
	chunks := retrieval.ChunkText(req.Text, retrieval.DefaultChunkSize, retrieval.DefaultChunkOverlap)
	doc := store.KBDoc{
		DocID:      docID,
		ProjectID:  ident.ProjectID,
		Title:      req.Title,
		Tags:       req.Tags,
		TrustLevel: req.TrustLevel,
		Source:     source,
		Owner:      ident.Username,
	}
	if err := s.store.UpsertKBDoc(r.Context(), doc, chunks); err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"doc_id": docID, "chunks": len(chunks)})
}

func (s *Server) handleKBList(w http.ResponseWriter, r *http.Request) {
	ident, ok := s.resolveOrReject(w, r, queryProjectID(r))
	if !ok {
		return
	}
	docs, err := s.store.ListKBDocs(r.Context(), ident.ProjectID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs, "count": len(docs)})
}

type kbSearchRequest struct {
	ProjectID   int64  `json:"project_id"`
	Query       string `json:"query"`
	TopK        int    `json:"top_k"`
	TrustedOnly bool   `json:"trusted_only"`
}

// handleKBSearch runs kb_search through the registry so the API obeys the
// same validation and RBAC as a planned call.
func (s *Server) handleKBSearch(w http.ResponseWriter, r *http.Request) {
	var req kbSearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON: "+err.Error())
		return
	}
	ident, ok := s.resolveOrReject(w, r, req.ProjectID)
	if !ok {
		return
	}
	if !rbac.CanUseTool(s.policy, ident.Role, tools.NameKBSearch) {
		writeError(w, http.StatusForbidden, "forbidden", "Role cannot use kb_search")
		return
	}

	topK := req.TopK
	if topK == 0 {
		topK = 5
	}
	raw, _ := json.Marshal(map[string]any{
		"query": req.Query, "top_k": topK, "trusted_only": req.TrustedOnly,
	})
	args, err := s.registry.Validate(tools.NameKBSearch, raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	out, err := s.registry.Execute(r.Context(), tools.NameKBSearch, args, s.env, ident)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTodosList(w http.ResponseWriter, r *http.Request) {
	ident, ok := s.resolveOrReject(w, r, queryProjectID(r))
	if !ok {
		return
	}
	todos, err := s.store.ListTodosForUser(r.Context(), ident.ProjectID, ident.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"todos": todos, "count": len(todos)})
}

func (s *Server) handleProjectsList(w http.ResponseWriter, r *http.Request) {
	ident, ok := requestctx.IdentityFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "No identity")
		return
	}
	projects, err := s.store.ProjectsForUser(r.Context(), ident.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": projects, "count": len(projects)})
}

type userUpsertRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

func (s *Server) handleUserUpsert(w http.ResponseWriter, r *http.Request) {
	ident, ok := requestctx.IdentityFrom(r.Context())
	if !ok || !rbac.CanDecideApprovals(s.policy, ident.Role) {
		writeError(w, http.StatusForbidden, "forbidden", "Admin role required")
		return
	}
	var req userUpsertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON: "+err.Error())
		return
	}
	if _, exists := s.policy.RBAC.RolePermissions[req.Role]; !exists {
		writeError(w, http.StatusBadRequest, "invalid_request", "unknown role "+req.Role)
		return
	}
	if err := s.store.UpsertUser(r.Context(), req.Username, req.Password, req.Role); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if _, err := s.store.EnsureDefaultProject(r.Context(), req.Username); err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"username": req.Username, "role": req.Role})
}

func (s *Server) handleToolsList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tools": s.registry.Specs()})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	counters, err := s.store.Counters(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"counters": counters})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime":         time.Since(s.startTime).String(),
		"policy_version": s.policy.VersionTag,
		"tools":          len(s.registry.Specs()),
	})
}
