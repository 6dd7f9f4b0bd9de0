package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/open-justice/intervention-graph/internal/discovery"
	"github.com/open-justice/intervention-graph/internal/entity"
	"github.com/open-justice/intervention-graph/internal/model"
	"github.com/open-justice/intervention-graph/internal/research"
	"github.com/open-justice/intervention-graph/internal/scorer"
)

type ingestRequest struct {
	SourceID string          `json:"source_id"`
	Payload  json.RawMessage `json:"payload"`
}

type ingestResponse struct {
	ID                   string  `json:"id"`
	Status               string  `json:"status"`
	ExtractionConfidence float64 `json:"extraction_confidence"`
	SimilarityScore      float64 `json:"similarity_score"`
	PotentialDuplicateID *string `json:"potential_duplicate_id,omitempty"`
}

// handleIngest accepts a raw payload from a producer. Producers only ever
// see the queue item, never canonical entity internals.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	item, err := s.pipeline.Ingest(r.Context(), req.SourceID, req.Payload)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ingestResponse{
		ID:                   item.ID,
		Status:               string(item.Status),
		ExtractionConfidence: item.ExtractionConfidence,
		SimilarityScore:      item.SimilarityScore,
		PotentialDuplicateID: item.PotentialDuplicateID,
	})
}

func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := discovery.Status(q.Get("status"))
	if status == "" {
		status = discovery.StatusPending
	}
	items, err := s.queue.List(r.Context(), discovery.ListOpts{
		Status:   status,
		ItemType: q.Get("item_type"),
		SourceID: q.Get("source_id"),
		Limit:    intParam(q.Get("limit")),
		Offset:   intParam(q.Get("offset")),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

type approveRequest struct {
	ConsentLevel string `json:"consent_level,omitempty"`
	GivenBy      string `json:"given_by,omitempty"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if err := decodeBodyOptional(r, &req); err != nil {
		writeError(w, err)
		return
	}

	iv, err := s.pipeline.Approve(r.Context(), chi.URLParam(r, "id"), discovery.ApproveOpts{
		ConsentLevel: model.ConsentLevel(req.ConsentLevel),
		GivenBy:      req.GivenBy,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, iv)
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	var req rejectRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	if err := s.pipeline.Reject(r.Context(), chi.URLParam(r, "id"), req.Reason); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
}

type mergeRequest struct {
	TargetID string `json:"target_id"`
}

func (s *Server) handleMerge(w http.ResponseWriter, r *http.Request) {
	var req mergeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.TargetID == "" {
		writeError(w, model.NewValidationError("target_id", "must not be empty"))
		return
	}

	iv, err := s.pipeline.Merge(r.Context(), chi.URLParam(r, "id"), req.TargetID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, iv)
}

func (s *Server) handleListInterventions(w http.ResponseWriter, r *http.Request) {
	ceiling, err := ceilingParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	q := r.URL.Query()
	ivs, err := s.entities.ListInterventions(r.Context(), entity.ListFilter{
		Type:         q.Get("type"),
		Jurisdiction: q.Get("jurisdiction"),
		Funding:      model.FundingStatus(q.Get("funding")),
		Limit:        intParam(q.Get("limit")),
		Offset:       intParam(q.Get("offset")),
	}, ceiling)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"interventions": ivs})
}

func (s *Server) handleGetIntervention(w http.ResponseWriter, r *http.Request) {
	ceiling, err := ceilingParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	iv, err := s.entities.GetIntervention(r.Context(), chi.URLParam(r, "id"), ceiling)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, iv)
}

type attachEvidenceRequest struct {
	Title       string `json:"title"`
	SourceURL   string `json:"source_url"`
	SourceTitle string `json:"source_title"`
}

func (s *Server) handleAttachEvidence(w http.ResponseWriter, r *http.Request) {
	var req attachEvidenceRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	ev, err := s.pipeline.AttachEvidence(r.Context(), chi.URLParam(r, "id"), &model.Evidence{
		Title:       req.Title,
		SourceURL:   req.SourceURL,
		SourceTitle: req.SourceTitle,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

func (s *Server) handleListEvidence(w http.ResponseWriter, r *http.Request) {
	ceiling, err := ceilingParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	evs, err := s.entities.ListEvidenceForIntervention(r.Context(), chi.URLParam(r, "id"), ceiling)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"evidence": evs})
}

func (s *Server) handleGetEvidence(w http.ResponseWriter, r *http.Request) {
	ceiling, err := ceilingParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	ev, err := s.entities.GetEvidence(r.Context(), chi.URLParam(r, "id"), ceiling)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

type linkArticleRequest struct {
	ArticleID     string `json:"article_id"`
	RelevanceNote string `json:"relevance_note"`
}

func (s *Server) handleLinkArticle(w http.ResponseWriter, r *http.Request) {
	var req linkArticleRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.ArticleID == "" {
		writeError(w, model.NewValidationError("article_id", "must not be empty"))
		return
	}

	err := s.entities.LinkArticleEvidence(r.Context(), model.ArticleEvidenceLink{
		ArticleID:     req.ArticleID,
		EvidenceID:    chi.URLParam(r, "id"),
		RelevanceNote: req.RelevanceNote,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "linked"})
}

type attachOutcomeRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (s *Server) handleAttachOutcome(w http.ResponseWriter, r *http.Request) {
	var req attachOutcomeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	oc, err := s.pipeline.AttachOutcome(r.Context(), chi.URLParam(r, "id"), &model.Outcome{
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, oc)
}

func (s *Server) handleListOutcomes(w http.ResponseWriter, r *http.Request) {
	ceiling, err := ceilingParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	ocs, err := s.entities.ListOutcomesForIntervention(r.Context(), chi.URLParam(r, "id"), ceiling)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"outcomes": ocs})
}

type createContextRequest struct {
	Community    string `json:"community"`
	Needs        string `json:"needs"`
	Assets       string `json:"assets"`
	ConsentLevel string `json:"consent_level"`
	GivenBy      string `json:"given_by"`
}

func (s *Server) handleCreateContext(w http.ResponseWriter, r *http.Request) {
	var req createContextRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	cc, err := s.pipeline.AddCommunityContext(r.Context(), &model.CommunityContext{
		Community: req.Community,
		Needs:     req.Needs,
		Assets:    req.Assets,
	}, model.ConsentLevel(req.ConsentLevel), req.GivenBy)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, cc)
}

func (s *Server) handleListContexts(w http.ResponseWriter, r *http.Request) {
	ceiling, err := ceilingParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	ccs, err := s.entities.ListCommunityContexts(r.Context(), ceiling)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"contexts": ccs})
}

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	ceiling, err := ceilingParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	score, err := s.ranker.RankOne(r.Context(), chi.URLParam(r, "id"), ceiling)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, score)
}

func (s *Server) handleRankings(w http.ResponseWriter, r *http.Request) {
	ceiling, err := ceilingParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	q := r.URL.Query()
	minAlpha, _ := strconv.ParseFloat(q.Get("min_alpha"), 64)
	scores, err := s.ranker.RankAll(r.Context(), scorer.RankFilters{
		Type:         q.Get("type"),
		Jurisdiction: q.Get("jurisdiction"),
		MinAlpha:     minAlpha,
		Limit:        intParam(q.Get("limit")),
	}, ceiling)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rankings": scores})
}

type createSessionRequest struct {
	Query           string `json:"query"`
	Depth           int    `json:"depth"`
	MaxConsentLevel string `json:"max_consent_level"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	ceiling := model.ConsentLevel(req.MaxConsentLevel)
	if ceiling == model.ConsentAdminCeiling {
		writeError(w, model.NewValidationError("max_consent_level", "unknown level"))
		return
	}

	sess, err := s.engine.Create(r.Context(), req.Query, req.Depth, ceiling)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := s.sessions.GetSession(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	findings, err := s.sessions.ListFindings(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session":  sess,
		"findings": findings,
	})
}

func (s *Server) handleToolLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := s.sessions.ListToolLogs(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tool_logs": logs})
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var fb research.Feedback
	if err := decodeBody(r, &fb); err != nil {
		writeError(w, err)
		return
	}

	if err := s.engine.SubmitFeedback(r.Context(), chi.URLParam(r, "id"), fb); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return model.NewValidationError("body", "must not be empty")
		}
		return model.NewValidationError("body", "malformed JSON")
	}
	return nil
}

// decodeBodyOptional is decodeBody for endpoints where an empty body means
// "use the defaults".
func decodeBodyOptional(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || err == io.EOF {
		return nil
	}
	return model.NewValidationError("body", "malformed JSON")
}

func intParam(raw string) int {
	n, _ := strconv.Atoi(raw)
	return n
}
