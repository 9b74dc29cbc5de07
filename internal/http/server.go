package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"eruditiontx/tenancy/internal/account"
	"eruditiontx/tenancy/internal/auth"
	"eruditiontx/tenancy/internal/config"
	"eruditiontx/tenancy/internal/fault"
	"eruditiontx/tenancy/internal/model"
	"eruditiontx/tenancy/internal/tenant"
)

type Server struct {
	cfg       config.Config
	directory *tenant.Directory
	registry  *account.Registry
}

func NewServer(cfg config.Config, directory *tenant.Directory, registry *account.Registry) *Server {
	return &Server{cfg: cfg, directory: directory, registry: registry}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/accounts", func(r chi.Router) {
		r.Post("/admin/create", s.handleCreateAccount(model.RoleAdmin))
		r.Post("/admin/login", s.handleLogin(model.RoleAdmin))
		r.Post("/teacher/create", s.handleCreateAccount(model.RoleTeacher))
		r.Post("/teacher/login", s.handleLogin(model.RoleTeacher))
		r.Post("/student/create", s.handleCreateAccount(model.RoleStudent))
		r.Post("/student/login", s.handleLogin(model.RoleStudent))

		r.With(s.authMiddleware, s.requireRole(model.RoleAdmin)).
			Post("/teacher/create-list", s.handleCreateAccountList(model.RoleTeacher))
		r.With(s.authMiddleware, s.requireRole(model.RoleAdmin)).
			Post("/student/create-list", s.handleCreateAccountList(model.RoleStudent))

		r.Post("/school/create", s.handleCreateSchool)
	})

	r.Route("/questions", func(r chi.Router) {
		r.Use(s.authMiddleware, s.requireRole(model.RoleTeacher))
		r.Get("/", s.handleListQuestions)
		r.Post("/create", s.handleCreateQuestion)
		r.Get("/{questionID}", s.handleGetQuestion)
		r.Put("/update/{questionID}", s.handleUpdateQuestion)
		r.Delete("/delete/{questionID}", s.handleDeleteQuestion)
	})

	return r
}

// authMiddleware is the first half of the access guard: verify the
// bearer token and attach its claims to the request context. Every
// token failure surfaces as 401.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing_token")
			return
		}

		claims, err := auth.ParseToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid_token")
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireRole is the second half: the claims role must be in the
// endpoint's allowed set. Exact membership, no hierarchy — an admin
// does not pass a teacher-only endpoint unless listed.
func (s *Server) requireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := claimsFromContext(r.Context())
			if claims == nil {
				writeError(w, http.StatusUnauthorized, "missing_token")
				return
			}
			for _, role := range roles {
				if claims.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, http.StatusForbidden, "forbidden")
		})
	}
}

type claimsKey struct{}

func claimsFromContext(ctx context.Context) *auth.Claims {
	value := ctx.Value(claimsKey{})
	claims, _ := value.(*auth.Claims)
	return claims
}

type createAccountRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
	School    string `json:"school"`
}

func (req createAccountRequest) params() account.CreateParams {
	return account.CreateParams{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		School:    req.School,
	}
}

func (s *Server) handleCreateAccount(role string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createAccountRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request")
			return
		}

		id, err := s.registry.Create(r.Context(), role, req.params())
		if err != nil {
			writeFault(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"id": id})
	}
}

type createAccountListRequest struct {
	Accounts []createAccountRequest `json:"accounts"`
}

func (s *Server) handleCreateAccountList(role string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createAccountListRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request")
			return
		}

		entries := make([]account.CreateParams, 0, len(req.Accounts))
		for _, entry := range req.Accounts {
			entries = append(entries, entry.params())
		}

		ids, err := s.registry.CreateBatch(r.Context(), role, entries)
		if err != nil {
			writeFault(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string][]string{"ids": ids})
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string `json:"accessToken"`
	IdentityID  string `json:"identityId"`
	Role        string `json:"role"`
	TenantCode  string `json:"tenantCode"`
	ExpiresAt   int64  `json:"expiresAt"`
}

func (s *Server) handleLogin(role string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request")
			return
		}

		result, err := s.registry.Login(r.Context(), role, req.Email, req.Password)
		if err != nil {
			writeFault(w, err)
			return
		}

		writeJSON(w, http.StatusOK, loginResponse{
			AccessToken: result.Token,
			IdentityID:  result.IdentityID,
			Role:        result.Role,
			TenantCode:  result.TenantCode,
			ExpiresAt:   result.ExpiresAt.Unix(),
		})
	}
}

type createSchoolRequest struct {
	Name     string                 `json:"name"`
	Code     string                 `json:"code"`
	Admin    *createAccountRequest  `json:"admin,omitempty"`
	Teachers []createAccountRequest `json:"teachers,omitempty"`
	Students []createAccountRequest `json:"students,omitempty"`
}

type createSchoolResponse struct {
	TenantID   string   `json:"tenantId"`
	AdminID    string   `json:"adminId,omitempty"`
	TeacherIDs []string `json:"teacherIds,omitempty"`
	StudentIDs []string `json:"studentIds,omitempty"`
}

func (s *Server) handleCreateSchool(w http.ResponseWriter, r *http.Request) {
	var req createSchoolRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	params := account.OnboardParams{Name: req.Name, Code: req.Code}
	if req.Admin != nil {
		adminParams := req.Admin.params()
		params.Admin = &adminParams
	}
	for _, entry := range req.Teachers {
		params.Teachers = append(params.Teachers, entry.params())
	}
	for _, entry := range req.Students {
		params.Students = append(params.Students, entry.params())
	}

	result, err := s.registry.OnboardSchool(r.Context(), params)
	if err != nil {
		writeFault(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, createSchoolResponse{
		TenantID:   result.TenantID,
		AdminID:    result.AdminID,
		TeacherIDs: result.TeacherIDs,
		StudentIDs: result.StudentIDs,
	})
}

// scopeFromClaims routes the request to its tenant's data scope. The
// tenant comes from the verified token only, never from request input.
func (s *Server) scopeFromClaims(r *http.Request) (*tenant.Scope, *auth.Claims, error) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		return nil, nil, fault.New(fault.CodeServerError)
	}
	tenantRec, err := s.directory.Resolve(r.Context(), claims.TenantCode)
	if err != nil {
		return nil, nil, err
	}
	return s.directory.Scope(tenantRec), claims, nil
}

type questionRequest struct {
	Subject  string   `json:"subject"`
	Question string   `json:"question"`
	Options  []string `json:"options"`
	Answer   string   `json:"answer"`
}

type questionUpdateRequest struct {
	Subject  *string   `json:"subject,omitempty"`
	Question *string   `json:"question,omitempty"`
	Options  *[]string `json:"options,omitempty"`
	Answer   *string   `json:"answer,omitempty"`
}

type questionResponse struct {
	ID        string   `json:"id"`
	Subject   string   `json:"subject"`
	Question  string   `json:"question"`
	Options   []string `json:"options"`
	Answer    string   `json:"answer"`
	CreatedBy string   `json:"createdBy"`
	CreatedAt int64    `json:"createdAt"`
	UpdatedAt int64    `json:"updatedAt"`
}

func mapQuestion(q tenant.Question) questionResponse {
	return questionResponse{
		ID:        q.ID,
		Subject:   q.Subject,
		Question:  q.Question,
		Options:   q.Options,
		Answer:    q.Answer,
		CreatedBy: q.CreatedBy,
		CreatedAt: q.CreatedAt.Unix(),
		UpdatedAt: q.UpdatedAt.Unix(),
	}
}

func (s *Server) handleCreateQuestion(w http.ResponseWriter, r *http.Request) {
	scope, claims, err := s.scopeFromClaims(r)
	if err != nil {
		writeFault(w, err)
		return
	}

	var req questionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, "missing_question")
		return
	}
	if req.Options == nil {
		req.Options = []string{}
	}

	now := time.Now().UTC()
	question := tenant.Question{
		ID:        uuid.NewString(),
		Subject:   strings.TrimSpace(req.Subject),
		Question:  req.Question,
		Options:   req.Options,
		Answer:    req.Answer,
		CreatedBy: claims.IdentityID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := scope.InsertQuestion(r.Context(), question); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	_ = scope.RecordEvent(r.Context(), uuid.NewString(), "question_created", claims.IdentityID)

	writeJSON(w, http.StatusCreated, mapQuestion(question))
}

func (s *Server) handleListQuestions(w http.ResponseWriter, r *http.Request) {
	scope, _, err := s.scopeFromClaims(r)
	if err != nil {
		writeFault(w, err)
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	questions, err := scope.ListQuestions(r.Context(), r.URL.Query().Get("subject"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	resp := make([]questionResponse, 0, len(questions))
	for _, q := range questions {
		resp = append(resp, mapQuestion(q))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetQuestion(w http.ResponseWriter, r *http.Request) {
	scope, _, err := s.scopeFromClaims(r)
	if err != nil {
		writeFault(w, err)
		return
	}

	questionID := chi.URLParam(r, "questionID")
	question, err := scope.GetQuestion(r.Context(), questionID)
	if err != nil {
		writeError(w, http.StatusNotFound, "question_not_found")
		return
	}
	writeJSON(w, http.StatusOK, mapQuestion(question))
}

func (s *Server) handleUpdateQuestion(w http.ResponseWriter, r *http.Request) {
	scope, claims, err := s.scopeFromClaims(r)
	if err != nil {
		writeFault(w, err)
		return
	}

	questionID := chi.URLParam(r, "questionID")
	var req questionUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	question, err := scope.UpdateQuestion(r.Context(), questionID, tenant.QuestionUpdate{
		Subject:  req.Subject,
		Question: req.Question,
		Options:  req.Options,
		Answer:   req.Answer,
	})
	if err != nil {
		writeError(w, http.StatusNotFound, "question_not_found")
		return
	}
	_ = scope.RecordEvent(r.Context(), uuid.NewString(), "question_updated", claims.IdentityID)

	writeJSON(w, http.StatusOK, mapQuestion(question))
}

func (s *Server) handleDeleteQuestion(w http.ResponseWriter, r *http.Request) {
	scope, claims, err := s.scopeFromClaims(r)
	if err != nil {
		writeFault(w, err)
		return
	}

	questionID := chi.URLParam(r, "questionID")
	deleted, err := scope.DeleteQuestion(r.Context(), questionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "question_not_found")
		return
	}
	_ = scope.RecordEvent(r.Context(), uuid.NewString(), "question_deleted", claims.IdentityID)

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func statusForCode(code string) int {
	switch code {
	case fault.CodeValidation:
		return http.StatusBadRequest
	case fault.CodeConflict:
		return http.StatusConflict
	case fault.CodeNotFound, fault.CodeTenantNotFound:
		return http.StatusNotFound
	case fault.CodeInvalidCredential:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// writeFault maps a taxonomy error to its HTTP status. Integrity
// details never reach the response body.
func writeFault(w http.ResponseWriter, err error) {
	code := fault.CodeOf(err)
	if code == fault.CodeIntegrity {
		writeError(w, http.StatusInternalServerError, fault.CodeServerError)
		return
	}
	writeError(w, statusForCode(code), code)
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func decodeJSON(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
