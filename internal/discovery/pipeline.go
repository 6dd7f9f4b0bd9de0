package discovery

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/open-justice/intervention-graph/internal/consent"
	"github.com/open-justice/intervention-graph/internal/db"
	"github.com/open-justice/intervention-graph/internal/entity"
	"github.com/open-justice/intervention-graph/internal/model"
)

// TxStores rebinds the pipeline's stores to a single transaction.
type TxStores func(tx db.Pool) (Store, entity.Store, consent.Ledger)

// Pipeline runs ingestion and review over the queue, the canonical graph,
// and the consent ledger.
type Pipeline struct {
	queue     Store
	entities  entity.Store
	ledger    consent.Ledger
	strategy  Strategy
	threshold float64

	pool db.Pool
	bind TxStores
}

// NewPipeline wires a Pipeline. A nil strategy falls back to the default
// lexical strategy; a non-positive threshold falls back to the default.
func NewPipeline(queue Store, entities entity.Store, ledger consent.Ledger, strategy Strategy, threshold float64) *Pipeline {
	if strategy == nil {
		strategy = LexicalGeoStrategy{}
	}
	if threshold <= 0 {
		threshold = DefaultDuplicateThreshold
	}
	return &Pipeline{
		queue:     queue,
		entities:  entities,
		ledger:    ledger,
		strategy:  strategy,
		threshold: threshold,
	}
}

// EnableTx makes Approve run its claim, insert, and grant in one
// transaction on pool. bind rebinds the stores to that transaction.
// Without it Approve falls back to compensating reverts, which the
// in-memory stores need.
func (p *Pipeline) EnableTx(pool db.Pool, bind TxStores) {
	p.pool = pool
	p.bind = bind
}

// Ingest extracts a raw payload, scores it against the canonical graph, and
// enqueues it for review. Items never skip the queue regardless of score.
func (p *Pipeline) Ingest(ctx context.Context, sourceID string, raw []byte) (*Item, error) {
	if strings.TrimSpace(sourceID) == "" {
		return nil, model.NewValidationError("source_id", "must not be empty")
	}

	extracted, confidence := Extract(raw)
	item := &Item{
		ID:                   uuid.New().String(),
		SourceID:             sourceID,
		SourceURL:            extracted.SourceURL,
		ItemType:             extracted.ItemType,
		RawData:              raw,
		Extracted:            extracted,
		ExtractionConfidence: confidence,
		Status:               StatusPending,
		DiscoveredAt:         time.Now().UTC(),
	}

	// Dedup scan runs at the admin ceiling: a candidate can duplicate a
	// community-controlled record too.
	if confidence > 0 {
		best, bestID, err := p.bestMatch(ctx, extracted)
		if err != nil {
			return nil, err
		}
		item.SimilarityScore = best
		if best >= p.threshold {
			item.PotentialDuplicateID = &bestID
		}
	}

	if err := p.queue.Insert(ctx, item); err != nil {
		return nil, err
	}
	zap.L().Info("ingested item",
		zap.String("id", item.ID),
		zap.String("source", sourceID),
		zap.Float64("confidence", confidence),
		zap.Float64("similarity", item.SimilarityScore),
	)
	return item, nil
}

func (p *Pipeline) bestMatch(ctx context.Context, extracted Extracted) (float64, string, error) {
	candidates, err := p.entities.SearchInterventions(ctx, firstToken(extracted.Title), model.ConsentAdminCeiling, 200)
	if err != nil && !model.IsValidation(err) {
		return 0, "", eris.Wrap(err, "discovery: candidate scan")
	}
	if len(candidates) == 0 {
		// No lexical hits; fall back to same-jurisdiction records.
		for _, j := range extracted.Jurisdictions {
			more, err := p.entities.ListInterventions(ctx,
				entity.ListFilter{Jurisdiction: j, Limit: 200}, model.ConsentAdminCeiling)
			if err != nil {
				return 0, "", eris.Wrap(err, "discovery: candidate scan")
			}
			candidates = append(candidates, more...)
		}
	}

	var best float64
	var bestID string
	for _, c := range candidates {
		if score := p.strategy.Score(extracted, c); score > best {
			best = score
			bestID = c.ID
		}
	}
	return best, bestID, nil
}

func firstToken(title string) string {
	for _, f := range strings.Fields(title) {
		f = strings.Trim(strings.ToLower(f), ".,;:()[]'\"&-")
		if f != "" && !genericSuffixes[f] {
			return f
		}
	}
	return title
}

// ApproveOpts carries the optional overrides for promotion.
type ApproveOpts struct {
	// ConsentLevel applied to the new intervention's ledger entry. Defaults
	// to community controlled: promotion never widens disclosure by default.
	ConsentLevel model.ConsentLevel
	GivenBy      string
}

// Approve promotes a pending item to a canonical intervention and records
// its consent grant. Only the first approval of an item succeeds.
func (p *Pipeline) Approve(ctx context.Context, id string, opts ApproveOpts) (*model.Intervention, error) {
	item, err := p.queue.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.Extracted.Title == "" {
		return nil, model.NewValidationError("title", "item has no extracted title")
	}
	if len(item.Extracted.Jurisdictions) == 0 {
		return nil, model.NewValidationError("jurisdictions", "item has no extracted jurisdictions")
	}

	level := opts.ConsentLevel
	if level == "" {
		level = model.ConsentCommunityControlled
	}
	if _, err := model.ParseConsentLevel(string(level)); err != nil {
		return nil, model.NewValidationError("consent_level", "unknown level")
	}

	var iv *model.Intervention
	if p.pool != nil && p.bind != nil {
		iv, err = p.approveTx(ctx, item, level, opts.GivenBy)
	} else {
		iv, err = p.approveCompensating(ctx, item, level, opts.GivenBy)
	}
	if err != nil {
		return nil, err
	}

	zap.L().Info("approved item",
		zap.String("item_id", id),
		zap.String("intervention_id", iv.ID),
		zap.String("consent_level", string(level)),
	)
	return iv, nil
}

// approveTx claims the item, creates the intervention, and records the
// grant in one transaction. A failure anywhere rolls everything back, so a
// crash can never strand an approved item without its canonical record.
func (p *Pipeline) approveTx(ctx context.Context, item *Item, level model.ConsentLevel, givenBy string) (*model.Intervention, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "discovery: begin approve tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	queue, entities, ledger := p.bind(tx)
	if err := queue.MarkApproved(ctx, item.ID); err != nil {
		return nil, err
	}
	iv, err := createAndGrant(ctx, entities, ledger, item, level, givenBy)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "discovery: commit approve tx")
	}
	return iv, nil
}

func (p *Pipeline) approveCompensating(ctx context.Context, item *Item, level model.ConsentLevel, givenBy string) (*model.Intervention, error) {
	if err := p.queue.MarkApproved(ctx, item.ID); err != nil {
		return nil, err
	}
	iv, err := createAndGrant(ctx, p.entities, p.ledger, item, level, givenBy)
	if err != nil {
		p.revert(ctx, item.ID, StatusApproved)
		return nil, err
	}
	return iv, nil
}

func createAndGrant(ctx context.Context, entities entity.Store, ledger consent.Ledger, item *Item, level model.ConsentLevel, givenBy string) (*model.Intervention, error) {
	iv := interventionFromItem(item)
	iv.ConsentLevel = level
	if err := entities.CreateIntervention(ctx, iv); err != nil {
		return nil, err
	}
	if _, err := ledger.Grant(ctx, consent.Grant{
		EntityType: "intervention",
		EntityID:   iv.ID,
		Level:      level,
		GivenBy:    givenBy,
	}); err != nil {
		return nil, err
	}
	return iv, nil
}

// Reject marks a pending item rejected. The item and its reason stay in the
// queue for audit; nothing reaches the canonical graph.
func (p *Pipeline) Reject(ctx context.Context, id, reason string) error {
	if strings.TrimSpace(reason) == "" {
		return model.NewValidationError("reason", "must not be empty")
	}
	if err := p.queue.MarkRejected(ctx, id, reason); err != nil {
		return err
	}
	zap.L().Info("rejected item", zap.String("item_id", id), zap.String("reason", reason))
	return nil
}

// Merge folds a pending item into an existing intervention. Fields already
// set on the target win; the item only fills gaps.
func (p *Pipeline) Merge(ctx context.Context, id, targetID string) (*model.Intervention, error) {
	item, err := p.queue.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	target, err := p.entities.GetIntervention(ctx, targetID, model.ConsentAdminCeiling)
	if err != nil {
		return nil, err
	}

	if err := p.queue.MarkMerged(ctx, id, targetID); err != nil {
		return nil, err
	}

	foldItem(target, item)
	if err := p.entities.UpdateIntervention(ctx, target); err != nil {
		p.revert(ctx, id, StatusMerged)
		return nil, err
	}

	zap.L().Info("merged item",
		zap.String("item_id", id),
		zap.String("target_id", targetID),
	)
	return target, nil
}

// AttachEvidence records an evidence record against an intervention and
// grants it a ledger entry inherited from the intervention, so the evidence
// is readable at the same ceilings as its parent.
func (p *Pipeline) AttachEvidence(ctx context.Context, interventionID string, ev *model.Evidence) (*model.Evidence, error) {
	if _, err := p.entities.GetIntervention(ctx, interventionID, model.ConsentAdminCeiling); err != nil {
		return nil, err
	}
	if err := p.entities.CreateEvidence(ctx, ev); err != nil {
		return nil, err
	}
	if err := p.entities.LinkEvidence(ctx, interventionID, ev.ID); err != nil {
		return nil, err
	}
	if err := p.inheritGrant(ctx, "evidence", ev.ID, interventionID); err != nil {
		return nil, err
	}
	zap.L().Info("attached evidence",
		zap.String("intervention_id", interventionID),
		zap.String("evidence_id", ev.ID),
	)
	return ev, nil
}

// AttachOutcome records an outcome category against an intervention with an
// inherited ledger entry.
func (p *Pipeline) AttachOutcome(ctx context.Context, interventionID string, oc *model.Outcome) (*model.Outcome, error) {
	if _, err := p.entities.GetIntervention(ctx, interventionID, model.ConsentAdminCeiling); err != nil {
		return nil, err
	}
	if err := p.entities.CreateOutcome(ctx, oc); err != nil {
		return nil, err
	}
	if err := p.entities.LinkOutcome(ctx, interventionID, oc.ID); err != nil {
		return nil, err
	}
	if err := p.inheritGrant(ctx, "outcome", oc.ID, interventionID); err != nil {
		return nil, err
	}
	zap.L().Info("attached outcome",
		zap.String("intervention_id", interventionID),
		zap.String("outcome_id", oc.ID),
	)
	return oc, nil
}

// AddCommunityContext stores a community context together with its consent
// grant. The admin sentinel is not grantable.
func (p *Pipeline) AddCommunityContext(ctx context.Context, cc *model.CommunityContext, level model.ConsentLevel, givenBy string) (*model.CommunityContext, error) {
	if level == "" {
		level = model.ConsentCommunityControlled
	}
	if _, err := model.ParseConsentLevel(string(level)); err != nil || level == model.ConsentUnset {
		return nil, model.NewValidationError("consent_level", "unknown level")
	}
	if err := p.entities.CreateCommunityContext(ctx, cc); err != nil {
		return nil, err
	}
	if _, err := p.ledger.Grant(ctx, consent.Grant{
		EntityType: "community_context",
		EntityID:   cc.ID,
		Level:      level,
		GivenBy:    givenBy,
	}); err != nil {
		return nil, err
	}
	return cc, nil
}

// inheritGrant copies the intervention's ledger level onto a child entity.
// A parent with no grant leaves the child fail-closed with it.
func (p *Pipeline) inheritGrant(ctx context.Context, entityType, entityID, interventionID string) error {
	level, err := p.ledger.LevelOf(ctx, "intervention", interventionID)
	if err != nil {
		return err
	}
	if level == model.ConsentUnset {
		return nil
	}
	_, err = p.ledger.Grant(ctx, consent.Grant{
		EntityType: entityType,
		EntityID:   entityID,
		Level:      level,
	})
	return err
}

func (p *Pipeline) revert(ctx context.Context, id string, from Status) {
	if err := p.queue.Revert(ctx, id, from); err != nil {
		zap.L().Error("revert failed", zap.String("item_id", id), zap.Error(err))
	}
}

func interventionFromItem(item *Item) *model.Intervention {
	ex := item.Extracted
	return &model.Intervention{
		Name:           ex.Title,
		Type:           ex.ItemType,
		Description:    ex.Summary,
		EvidenceLevel:  model.EvidenceUntested,
		CurrentFunding: model.FundingUnfunded,
		Geography:      ex.Jurisdictions,
		Latitude:       ex.Latitude,
		Longitude:      ex.Longitude,
		Ext: model.Ext{
			SchemaVersion: model.ExtSchemaVersion,
			SourceID:      item.SourceID,
			SourceURL:     item.SourceURL,
			Year:          ex.Year,
			CountryCode:   ex.CountryCode,
			Categories:    ex.Categories,
		},
	}
}

// foldItem merges item fields into the target, filling only blanks.
func foldItem(target *model.Intervention, item *Item) {
	ex := item.Extracted
	if target.Description == "" {
		target.Description = ex.Summary
	}
	if target.Type == "" {
		target.Type = ex.ItemType
	}
	if target.Latitude == nil {
		target.Latitude = ex.Latitude
	}
	if target.Longitude == nil {
		target.Longitude = ex.Longitude
	}
	if target.Ext.SourceURL == "" {
		target.Ext.SourceURL = item.SourceURL
	}
	if target.Ext.Year == 0 {
		target.Ext.Year = ex.Year
	}
	if target.Ext.CountryCode == "" {
		target.Ext.CountryCode = ex.CountryCode
	}
	existing := map[string]bool{}
	for _, c := range target.Ext.Categories {
		existing[c] = true
	}
	for _, c := range ex.Categories {
		if !existing[c] {
			target.Ext.Categories = append(target.Ext.Categories, c)
		}
	}
	for _, j := range ex.Jurisdictions {
		found := false
		for _, g := range target.Geography {
			if strings.EqualFold(g, j) {
				found = true
				break
			}
		}
		if !found {
			target.Geography = append(target.Geography, j)
		}
	}
}
