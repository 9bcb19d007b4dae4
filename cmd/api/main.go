package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"escrowflow/authz"
	"escrowflow/config"
	"escrowflow/db"
	"escrowflow/dispute"
	"escrowflow/logger"
	"escrowflow/materials"
	"escrowflow/release"
)

type releaseService interface {
	ReleaseJobFunds(ctx context.Context, jobID, triggeredBy string) (release.Result, error)
}

type disputeService interface {
	Open(ctx context.Context, params dispute.OpenParams) (dispute.Record, error)
	Resolve(ctx context.Context, disputeID string, outcome dispute.Decision, decidedBy string) (dispute.Resolution, error)
}

type materialsService interface {
	SubmitReceipts(ctx context.Context, escrowID string, totalCents int64) error
	Release(ctx context.Context, escrowID string) (materials.Outcome, error)
}

// Server routes payout-triggering requests to the domain services.
type Server struct {
	releaseService   releaseService
	disputeService   disputeService
	materialsService materialsService
	authorizer       *authz.Authorizer
	log              *slog.Logger
}

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	log := logger.New(logger.Config(cfg.Logging))

	authorizer, err := authz.New(authz.Config(cfg.Authz))
	if err != nil {
		log.Error("bootstrap authorizer", "error", err)
		os.Exit(2)
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.Database.URL)
	if err != nil {
		log.Error("bootstrap database pool", "error", err)
		os.Exit(2)
	}
	defer pool.Close()

	payoutPolicy := release.Policy{
		PlatformFeeBps: cfg.Payout.PlatformFeeBps,
		RouterFeeBps:   cfg.Payout.RouterFeeBps,
	}
	materialsPolicy := materials.Policy{
		RemainderCreditThresholdCents: cfg.Payout.RemainderCreditThresholdCents,
	}

	server := &Server{
		releaseService:   release.NewService(pool, nil, payoutPolicy, log),
		disputeService:   dispute.NewService(pool, nil, nil, payoutPolicy, log),
		materialsService: materials.NewService(pool, nil, materialsPolicy, log),
		authorizer:       authorizer,
		log:              log,
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      server.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	log.Info("api listening", "addr", addr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("api server", "error", err)
		os.Exit(1)
	}
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/jobs/", s.withRole(authz.RoleWebhook, s.handleJobRelease))
	mux.HandleFunc("/api/disputes", s.withRole(authz.RoleAdmin, s.handleDisputes))
	mux.HandleFunc("/api/disputes/", s.withRole(authz.RoleAdmin, s.handleDisputeDetail))
	mux.HandleFunc("/api/escrows/", s.withRole(authz.RoleWebhook, s.handleEscrowDetail))
	return mux
}

// withRole authenticates the bearer token and enforces the role before
// dispatching. Handlers receive the resolved principal for attribution.
func (s *Server) withRole(role authz.Role, next func(http.ResponseWriter, *http.Request, authz.Principal)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		p, err := s.authorizer.Require(token, role)
		if err != nil {
			if errors.Is(err, authz.ErrForbidden) {
				writeError(w, http.StatusForbidden, "forbidden")
				return
			}
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		next(w, r, p)
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	return strings.TrimPrefix(header, "Bearer ")
}

type releaseResponse struct {
	JobID       string   `json:"jobId"`
	TransferIDs []string `json:"transferIds"`
	ReleasedAt  string   `json:"releasedAt"`
}

func toReleaseResponse(res release.Result) releaseResponse {
	return releaseResponse{
		JobID:       res.JobID,
		TransferIDs: res.TransferIDs[:],
		ReleasedAt:  res.ReleasedAt.UTC().Format(time.RFC3339),
	}
}

// handleJobRelease serves POST /api/jobs/{id}/release. A replayed request for
// an already-released job returns the original result with 200.
func (s *Server) handleJobRelease(w http.ResponseWriter, r *http.Request, p authz.Principal) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "release" {
		writeError(w, http.StatusBadRequest, "expected /api/jobs/{id}/release")
		return
	}
	jobID := parts[0]

	res, err := s.releaseService.ReleaseJobFunds(r.Context(), jobID, p.ID)
	if err != nil {
		var already *release.AlreadyReleasedError
		switch {
		case errors.As(err, &already):
			writeJSON(w, http.StatusOK, toReleaseResponse(already.Existing))
		case errors.Is(err, release.ErrJobNotFound):
			writeError(w, http.StatusNotFound, "job not found")
		case errors.Is(err, release.ErrDisputed):
			writeError(w, http.StatusConflict, "open dispute blocks release")
		case errors.Is(err, release.ErrNotEligible), errors.Is(err, release.ErrEscrowNotFunded):
			writeError(w, http.StatusConflict, err.Error())
		default:
			s.log.Error("release job", "job_id", jobID, "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	writeJSON(w, http.StatusOK, toReleaseResponse(res))
}

type disputeResponse struct {
	ID        string  `json:"id"`
	JobID     string  `json:"jobId"`
	Status    string  `json:"status"`
	Decision  *string `json:"decision,omitempty"`
	CreatedAt string  `json:"createdAt"`
}

func toDisputeResponse(rec dispute.Record) disputeResponse {
	resp := disputeResponse{
		ID:        rec.ID,
		JobID:     rec.JobID,
		Status:    string(rec.Status),
		CreatedAt: rec.CreatedAt.UTC().Format(time.RFC3339),
	}
	if rec.Decision != nil {
		d := string(*rec.Decision)
		resp.Decision = &d
	}
	return resp
}

// handleDisputes serves POST /api/disputes.
func (s *Server) handleDisputes(w http.ResponseWriter, r *http.Request, p authz.Principal) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body struct {
		JobID    string     `json:"jobId"`
		Against  string     `json:"against"`
		Reason   string     `json:"reason"`
		Deadline *time.Time `json:"deadline"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if body.JobID == "" || body.Reason == "" {
		writeError(w, http.StatusBadRequest, "jobId and reason are required")
		return
	}

	rec, err := s.disputeService.Open(r.Context(), dispute.OpenParams{
		JobID:    body.JobID,
		OpenedBy: p.ID,
		Against:  body.Against,
		Reason:   body.Reason,
		Deadline: body.Deadline,
	})
	if err != nil {
		switch {
		case errors.Is(err, dispute.ErrAlreadyOpen):
			writeError(w, http.StatusConflict, "a dispute is already open for this job")
		case errors.Is(err, dispute.ErrJobReleased):
			writeError(w, http.StatusConflict, "payout already released")
		case errors.Is(err, dispute.ErrJobNotFound):
			writeError(w, http.StatusNotFound, "job not found")
		default:
			s.log.Error("open dispute", "job_id", body.JobID, "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	writeJSON(w, http.StatusCreated, toDisputeResponse(rec))
}

type resolutionResponse struct {
	Dispute disputeResponse  `json:"dispute"`
	Release *releaseResponse `json:"release,omitempty"`
}

// handleDisputeDetail serves PATCH /api/disputes/{id}.
func (s *Server) handleDisputeDetail(w http.ResponseWriter, r *http.Request, p authz.Principal) {
	if r.Method != http.MethodPatch {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	disputeID := strings.TrimPrefix(r.URL.Path, "/api/disputes/")
	if disputeID == "" || strings.Contains(disputeID, "/") {
		writeError(w, http.StatusBadRequest, "expected /api/disputes/{id}")
		return
	}

	var body struct {
		Outcome string `json:"outcome"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	outcome := dispute.Decision(body.Outcome)
	if outcome != dispute.DecisionRelease && outcome != dispute.DecisionRefund {
		writeError(w, http.StatusBadRequest, "outcome must be RELEASE or REFUND")
		return
	}

	res, err := s.disputeService.Resolve(r.Context(), disputeID, outcome, p.ID)
	if err != nil {
		switch {
		case errors.Is(err, dispute.ErrNotFound):
			writeError(w, http.StatusNotFound, "dispute not found")
		case errors.Is(err, dispute.ErrAlreadyDecided):
			writeError(w, http.StatusConflict, "dispute already decided")
		default:
			s.log.Error("resolve dispute", "dispute_id", disputeID, "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	resp := resolutionResponse{Dispute: toDisputeResponse(res.Dispute)}
	if res.Release != nil {
		rr := toReleaseResponse(*res.Release)
		resp.Release = &rr
	}
	writeJSON(w, http.StatusOK, resp)
}

type materialsResponse struct {
	ReimbursedCents int64  `json:"reimbursedCents"`
	RemainderCents  int64  `json:"remainderCents"`
	RemainderMethod string `json:"remainderMethod"`
	ScheduledFor    string `json:"scheduledFor,omitempty"`
}

// handleEscrowDetail serves POST /api/escrows/{id}/receipts and
// POST /api/escrows/{id}/release for materials sub-escrows.
func (s *Server) handleEscrowDetail(w http.ResponseWriter, r *http.Request, p authz.Principal) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/escrows/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" {
		writeError(w, http.StatusBadRequest, "expected /api/escrows/{id}/receipts or /release")
		return
	}
	escrowID := parts[0]

	switch parts[1] {
	case "receipts":
		s.handleSubmitReceipts(w, r, escrowID)
	case "release":
		s.handleMaterialsRelease(w, r, escrowID)
	default:
		writeError(w, http.StatusBadRequest, "unknown escrow action")
	}
}

func (s *Server) handleSubmitReceipts(w http.ResponseWriter, r *http.Request, escrowID string) {
	var body struct {
		TotalCents int64 `json:"totalCents"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if body.TotalCents < 0 {
		writeError(w, http.StatusBadRequest, "totalCents must not be negative")
		return
	}

	if err := s.materialsService.SubmitReceipts(r.Context(), escrowID, body.TotalCents); err != nil {
		switch {
		case errors.Is(err, materials.ErrNotFound):
			writeError(w, http.StatusNotFound, "escrow not found")
		case errors.Is(err, materials.ErrReceiptsAlreadySubmitted):
			writeError(w, http.StatusConflict, "receipts already submitted")
		default:
			s.log.Error("submit receipts", "escrow_id", escrowID, "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMaterialsRelease(w http.ResponseWriter, r *http.Request, escrowID string) {
	out, err := s.materialsService.Release(r.Context(), escrowID)
	if err != nil {
		switch {
		case errors.Is(err, materials.ErrNotFound):
			writeError(w, http.StatusNotFound, "escrow not found")
		case errors.Is(err, materials.ErrAlreadyReleased):
			writeError(w, http.StatusConflict, "sub-escrow already released")
		case errors.Is(err, materials.ErrReceiptsNotSubmitted), errors.Is(err, materials.ErrNotFunded):
			writeError(w, http.StatusConflict, err.Error())
		default:
			s.log.Error("release materials", "escrow_id", escrowID, "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	resp := materialsResponse{
		ReimbursedCents: out.ReimbursedCents,
		RemainderCents:  out.RemainderCents,
		RemainderMethod: string(out.Method),
	}
	if out.ScheduledFor != nil {
		resp.ScheduledFor = out.ScheduledFor.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
