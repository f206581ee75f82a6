package httpserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/fairyhunter13/ai-text-broker/internal/config"
	"github.com/fairyhunter13/ai-text-broker/internal/domain"
	"github.com/fairyhunter13/ai-text-broker/internal/observability"
	"github.com/fairyhunter13/ai-text-broker/internal/usecase"
)

// Server aggregates handler dependencies.
type Server struct {
	Cfg    config.Config
	Broker *usecase.Broker
}

// NewServer constructs an HTTP server with all handlers wired.
func NewServer(cfg config.Config, broker *usecase.Broker) *Server {
	return &Server{Cfg: cfg, Broker: broker}
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

// callerFromRequest resolves the request's apikey header to a user. A missing
// header falls back to the anonymous key; whether anonymous resolves is the
// broker's call.
func (s *Server) callerFromRequest(r *http.Request) (usecase.UserView, error) {
	key := strings.TrimSpace(r.Header.Get("apikey"))
	if key == "" {
		key = domain.AnonAPIKey
	}
	return s.Broker.Authenticate(key)
}

func decodeJSON(r *http.Request, v any) error {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "application/json") {
		return fmt.Errorf("%w: content-type must be application/json", domain.ErrInvalidArgument)
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	if err := getValidator().Struct(v); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	return nil
}

type generateRequest struct {
	Prompt      string         `json:"prompt" validate:"required"`
	Params      map[string]any `json:"params"`
	Models      []string       `json:"models"`
	Servers     []string       `json:"servers"`
	SoftPrompts []string       `json:"softprompts"`
}

// GenerateHandler accepts a prompt submission. It answers 503 synchronously
// when no live worker could ever serve the prompt.
func (s *Server) GenerateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, err := s.callerFromRequest(r)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		var req generateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err, nil)
			return
		}
		id, err := s.Broker.SubmitPrompt(caller.OAuthID, usecase.SubmitRequest{
			Prompt:      req.Prompt,
			Params:      req.Params,
			Models:      req.Models,
			Servers:     req.Servers,
			SoftPrompts: req.SoftPrompts,
		})
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		observability.PromptsSubmittedTotal.Inc()
		writeJSON(w, http.StatusAccepted, map[string]string{"id": id})
	}
}

// StatusHandler reports prompt progress and any completed generations.
func (s *Server) StatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := s.Broker.GetPromptStatus(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		gens := make([]map[string]string, 0, len(st.Generations))
		for _, g := range st.Generations {
			gens = append(gens, map[string]string{
				"text":        g.Text,
				"server_id":   g.WorkerID,
				"server_name": g.WorkerName,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"finished":    st.Finished,
			"processing":  st.Processing,
			"waiting":     st.Waiting,
			"done":        st.Done,
			"generations": gens,
		})
	}
}

// CancelHandler deletes a prompt and its generations.
func (s *Server) CancelHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.Broker.CancelPrompt(chi.URLParam(r, "id")); err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"canceled": true})
	}
}

type popRequest struct {
	Name             string   `json:"name" validate:"required"`
	Model            string   `json:"model" validate:"required"`
	MaxLength        int      `json:"max_length" validate:"gt=0"`
	MaxContentLength int      `json:"max_content_length" validate:"gt=0"`
	SoftPrompts      []string `json:"softprompts"`
}

// PopHandler is the worker check-in: it registers and refreshes the worker,
// then either hands out a dispatch record or reports why every queued prompt
// was skipped.
func (s *Server) PopHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, err := s.callerFromRequest(r)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		var req popRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err, nil)
			return
		}
		dispatch, skips, err := s.Broker.Pop(r.Context(), caller.OAuthID, usecase.PopRequest{
			Name:             req.Name,
			Model:            req.Model,
			MaxLength:        req.MaxLength,
			MaxContentLength: req.MaxContentLength,
			SoftPrompts:      req.SoftPrompts,
		})
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		if dispatch == nil {
			writeJSON(w, http.StatusOK, map[string]any{"id": nil, "skipped": skips})
			return
		}
		observability.DispatchesTotal.Inc()
		writeJSON(w, http.StatusOK, map[string]any{
			"id":         dispatch.ID,
			"payload":    dispatch.Payload,
			"softprompt": dispatch.SoftPrompt,
		})
	}
}

type submitRequest struct {
	ID         string `json:"id" validate:"required"`
	Generation string `json:"generation" validate:"required"`
}

// SubmitHandler receives a worker's finished generation.
func (s *Server) SubmitHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req submitRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err, nil)
			return
		}
		kudos, err := s.Broker.SubmitGeneration(r.Context(), req.ID, req.Generation)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		observability.FulfilmentsTotal.Inc()
		writeJSON(w, http.StatusOK, map[string]float64{"kudos": kudos})
	}
}

type createUserRequest struct {
	Username string `json:"username" validate:"required"`
	OAuthID  string `json:"oauth_id" validate:"required"`
	InviteID string `json:"invite_id"`
}

// CreateUserHandler registers a user and returns its freshly minted API key.
// This is the only surface that ever exposes the key.
func (s *Server) CreateUserHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createUserRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err, nil)
			return
		}
		view, err := s.Broker.CreateUser(req.Username, req.OAuthID, req.InviteID)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"id":      view.ID,
			"alias":   view.Alias,
			"api_key": view.APIKey,
		})
	}
}

func publicUser(v usecase.UserView) map[string]any {
	return map[string]any{
		"id":            v.ID,
		"username":      v.Username,
		"alias":         v.Alias,
		"kudos":         v.Kudos,
		"kudos_details": v.KudosDetails,
		"contributions": map[string]int64{"chars": v.ContributedChars, "fulfillments": v.ContributedFulfills},
		"usage":         map[string]int64{"chars": v.UsedChars, "requests": v.UsedRequests},
	}
}

// ListUsersHandler is the public ledger listing. API keys are never included.
func (s *Server) ListUsersHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		views := s.Broker.ListUsers()
		out := make([]map[string]any, 0, len(views))
		for _, v := range views {
			out = append(out, publicUser(v))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// GetUserHandler resolves a username#id alias.
func (s *Server) GetUserHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := s.Broker.GetUserByAlias(chi.URLParam(r, "alias"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, publicUser(view))
	}
}

type transferRequest struct {
	Username string  `json:"username" validate:"required"`
	Amount   float64 `json:"amount" validate:"gt=0"`
}

// TransferHandler moves kudos from the authenticated caller to a target user.
func (s *Server) TransferHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req transferRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err, nil)
			return
		}
		key := strings.TrimSpace(r.Header.Get("apikey"))
		granted, err := s.Broker.TransferKudosFromAPIKey(key, req.Username, req.Amount)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		observability.KudosTransferredTotal.Add(granted)
		writeJSON(w, http.StatusOK, map[string]float64{"transferred": granted})
	}
}

// ModelsHandler lists the models live workers currently offer.
func (s *Server) ModelsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.Broker.AvailableModels())
	}
}

// WorkersHandler lists worker records for the status surface.
func (s *Server) WorkersHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		views := s.Broker.ListWorkers()
		out := make([]map[string]any, 0, len(views))
		for _, v := range views {
			out = append(out, map[string]any{
				"id":                 v.ID,
				"name":               v.Name,
				"owner":              v.OwnerAlias,
				"model":              v.Model,
				"max_length":         v.MaxLength,
				"max_content_length": v.MaxContentLength,
				"contributions":      v.ContributedChars,
				"fulfilments":        v.Fulfilments,
				"kudos":              v.Kudos,
				"performance":        v.Performance,
				"uptime":             v.Uptime,
				"stale":              v.Stale,
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// HeartbeatHandler reports broker-wide totals.
func (s *Server) HeartbeatHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hb := s.Broker.GetHeartbeat()
		observability.QueuedIterations.Set(float64(hb.QueuedIterations))
		observability.ActiveWorkers.Set(float64(hb.ActiveWorkers))
		writeJSON(w, http.StatusOK, map[string]any{
			"active_workers":    hb.ActiveWorkers,
			"queued_prompts":    hb.QueuedPrompts,
			"queued_iterations": hb.QueuedIterations,
			"total_chars":       hb.TotalChars,
			"total_fulfilments": hb.TotalFulfilments,
			"average_perf":      hb.AveragePerf,
			"top_contributor":   hb.TopContributor,
			"top_worker":        hb.TopWorker,
		})
	}
}
