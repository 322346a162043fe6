package service

import (
	"context"
	"errors"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/kzp/zoo-ticketing/internal/config"
	"github.com/kzp/zoo-ticketing/internal/model"
	"github.com/kzp/zoo-ticketing/internal/repository"
)

// TariffStore is the persistence the catalog needs.  *repository.TariffRepo
// satisfies it.
type TariffStore interface {
	ListAll(ctx context.Context) ([]model.TariffEntry, error)
	Insert(ctx context.Context, e *model.TariffEntry) error
	Update(ctx context.Context, e *model.TariffEntry) error
	SetActive(ctx context.Context, id uint64, active bool) error
	ApplyOrder(ctx context.Context, changes []repository.OrderChange) error
	DeleteByItemCode(ctx context.Context, itemCode string) error
	IsReferenced(ctx context.Context, codes ...string) (bool, error)
	GetByID(ctx context.Context, id uint64) (model.TariffEntry, error)
}

var itemCodePattern = regexp.MustCompile(`^[a-z0-9_]+$`)

// CatalogService owns the tariff catalog: the fixed canonical rows loaded
// from the catalog file, lazy reconciliation of stored rows, and the admin
// operations on non-protected rows.
type CatalogService struct {
	store   TariffStore
	canon   []config.CanonicalTariff
	index   map[string]int
	free    map[string]bool
	aliases map[string]string

	// serialises reconciliation inside one process; passes from other
	// instances are tolerated because a pass is idempotent.
	mu sync.Mutex
}

// NewCatalogService builds the catalog over store using the canonical
// definition in file.
func NewCatalogService(store TariffStore, file config.CatalogFile) *CatalogService {
	s := &CatalogService{
		store:   store,
		canon:   file.Tariffs,
		index:   make(map[string]int, len(file.Tariffs)),
		free:    make(map[string]bool, len(file.FreeCodes)),
		aliases: file.Aliases,
	}
	for i, t := range file.Tariffs {
		s.index[t.ItemCode] = i
	}
	for _, c := range file.FreeCodes {
		s.free[c] = true
	}
	return s
}

// IsProtected reports whether code belongs to the canonical set.
func (s *CatalogService) IsProtected(code string) bool {
	_, ok := s.index[code]
	return ok
}

// ReservedSlots is the number of display positions held by protected rows.
func (s *CatalogService) ReservedSlots() int { return len(s.canon) }

// Resequence reconciles the stored catalog and returns the normalized,
// de-duplicated list sorted by display order.  Write failures are logged
// and do not fail the call; a load failure returns the canonical rows
// synthesized from the catalog file together with the error.
func (s *CatalogService) Resequence(ctx context.Context) ([]model.TariffEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, visible, err := s.reconcile(ctx)
	return visible, err
}

// reconcile runs one pass and returns every row in final order (retired
// duplicates included) plus the visible list.
func (s *CatalogService) reconcile(ctx context.Context) ([]model.TariffEntry, []model.TariffEntry, error) {
	rows, err := s.store.ListAll(ctx)
	if err != nil {
		log.WithError(err).Error("tariff resequence: load failed")
		return nil, s.synthesize(nil), err
	}

	present := make(map[string]bool, len(rows))
	for _, r := range rows {
		present[r.ItemCode] = true
	}
	inserted := false
	for i, c := range s.canon {
		if present[c.ItemCode] {
			continue
		}
		e := &model.TariffEntry{
			ItemCode:     c.ItemCode,
			CategoryCode: c.ItemCode,
			Label:        c.Label,
			Category:     c.Category,
			Price:        c.Price,
			DisplayOrder: i + 1,
			IsActive:     true,
		}
		if err := s.store.Insert(ctx, e); err != nil {
			log.WithError(err).WithField("item_code", c.ItemCode).Error("tariff resequence: seed canonical row failed")
			continue
		}
		inserted = true
	}
	if inserted {
		if rows, err = s.store.ListAll(ctx); err != nil {
			log.WithError(err).Error("tariff resequence: reload failed")
			return nil, s.synthesize(nil), err
		}
	}

	sortCatalog(rows)
	ordered, changes := s.plan(rows)
	if len(changes) > 0 {
		if err := s.store.ApplyOrder(ctx, changes); err != nil {
			log.WithError(err).WithField("changes", len(changes)).Error("tariff resequence: write failed")
		} else {
			log.WithField("changes", len(changes)).Info("tariff catalog resequenced")
		}
	}
	return ordered, s.visible(ordered), nil
}

// plan de-duplicates and renumbers rows (already sorted) and returns the
// final order with the changes needed to reach it.
func (s *CatalogService) plan(rows []model.TariffEntry) ([]model.TariffEntry, []repository.OrderChange) {
	seen := make(map[string]bool, len(rows))
	canonical := make([]*model.TariffEntry, len(s.canon))
	var active, inactive []*model.TariffEntry
	want := make(map[uint64]repository.OrderChange, len(rows))

	for i := range rows {
		r := &rows[i]
		want[r.ID] = repository.OrderChange{ID: r.ID, DisplayOrder: r.DisplayOrder, IsActive: r.IsActive}
		if seen[r.ItemCode] {
			r.IsActive = false
			inactive = append(inactive, r)
			continue
		}
		seen[r.ItemCode] = true
		if idx, ok := s.index[r.ItemCode]; ok {
			canonical[idx] = r
			continue
		}
		if r.IsActive {
			active = append(active, r)
		} else {
			inactive = append(inactive, r)
		}
	}

	ordered := make([]model.TariffEntry, 0, len(rows))
	pos := 0
	for _, group := range [][]*model.TariffEntry{canonical, active, inactive} {
		for _, r := range group {
			pos++
			if r == nil {
				continue
			}
			r.DisplayOrder = pos
			ordered = append(ordered, *r)
		}
	}

	var changes []repository.OrderChange
	for _, r := range ordered {
		before := want[r.ID]
		if before.DisplayOrder != r.DisplayOrder || before.IsActive != r.IsActive {
			changes = append(changes, repository.OrderChange{ID: r.ID, DisplayOrder: r.DisplayOrder, IsActive: r.IsActive})
		}
	}
	return ordered, changes
}

// visible drops retired duplicates, flags protected rows and fills in any
// protected row that is missing from storage.
func (s *CatalogService) visible(ordered []model.TariffEntry) []model.TariffEntry {
	seen := make(map[string]bool, len(ordered))
	out := make([]model.TariffEntry, 0, len(ordered))
	for _, r := range ordered {
		if seen[r.ItemCode] {
			continue
		}
		seen[r.ItemCode] = true
		if s.IsProtected(r.ItemCode) {
			r.Protected = true
			r.IsActive = true
		}
		out = append(out, r)
	}
	return s.synthesize(out)
}

// synthesize appends in-memory rows for canonical codes absent from list
// and returns the list sorted by display order.
func (s *CatalogService) synthesize(list []model.TariffEntry) []model.TariffEntry {
	have := make(map[string]bool, len(list))
	for _, r := range list {
		have[r.ItemCode] = true
	}
	for i, c := range s.canon {
		if have[c.ItemCode] {
			continue
		}
		list = append(list, model.TariffEntry{
			ItemCode:     c.ItemCode,
			CategoryCode: c.ItemCode,
			Label:        c.Label,
			Category:     c.Category,
			Price:        c.Price,
			DisplayOrder: i + 1,
			IsActive:     true,
			Protected:    true,
		})
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].DisplayOrder < list[j].DisplayOrder })
	return list
}

// sortCatalog orders rows by display order, most recently updated first,
// most recently created first, then insertion order.
func sortCatalog(rows []model.TariffEntry) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.DisplayOrder != b.DisplayOrder {
			return a.DisplayOrder < b.DisplayOrder
		}
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// ActivePricing returns the active catalog after reconciliation.  When
// storage cannot be read the canonical rows are still returned so pricing
// degrades to the protected set.
func (s *CatalogService) ActivePricing(ctx context.Context) []model.TariffEntry {
	list, err := s.Resequence(ctx)
	if err != nil {
		log.WithError(err).Warn("pricing: serving canonical tariffs only")
	}
	out := make([]model.TariffEntry, 0, len(list))
	for _, e := range list {
		if e.IsActive {
			out = append(out, e)
		}
	}
	return out
}

// Snapshot builds the pricing snapshot used by ResolveAndPrice.  Rows
// whose validity window excludes visitDate are left out; an empty
// visitDate keeps every active row.
func (s *CatalogService) Snapshot(ctx context.Context, visitDate string) *PricingSnapshot {
	snap := &PricingSnapshot{
		aliases:   s.aliases,
		canonical: make(map[string]config.CanonicalTariff, len(s.canon)),
		free:      s.free,
		active:    make(map[string]model.TariffEntry),
	}
	for _, c := range s.canon {
		snap.canonical[c.ItemCode] = c
	}
	for _, e := range s.ActivePricing(ctx) {
		if visitDate != "" && !e.AvailableOn(visitDate) {
			continue
		}
		if _, dup := snap.active[e.ItemCode]; !dup {
			snap.active[e.ItemCode] = e
		}
	}
	return snap
}

// TariffInput carries admin edits.  Nil fields are left unchanged on
// update.
type TariffInput struct {
	ItemCode     string   `json:"itemCode"`
	CategoryCode *string  `json:"categoryCode,omitempty"`
	Label        *string  `json:"label,omitempty"`
	Category     *string  `json:"category,omitempty"`
	Price        *float64 `json:"price,omitempty"`
	ValidFrom    *string  `json:"validFrom,omitempty"`
	ValidTo      *string  `json:"validTo,omitempty"`
}

// find returns the visible row for code.
func (s *CatalogService) find(list []model.TariffEntry, code string) (model.TariffEntry, bool) {
	for _, e := range list {
		if e.ItemCode == code {
			return e, true
		}
	}
	return model.TariffEntry{}, false
}

// CreateTariff adds a non-protected tariff placed after the last active
// row.
func (s *CatalogService) CreateTariff(ctx context.Context, in TariffInput) (model.TariffEntry, error) {
	code := strings.ToLower(strings.TrimSpace(in.ItemCode))
	if !itemCodePattern.MatchString(code) {
		return model.TariffEntry{}, ErrInvalidTariff.withMessage("itemCode must match [a-z0-9_]+")
	}
	if s.IsProtected(code) {
		return model.TariffEntry{}, ErrProtectedTariff
	}
	if in.Label == nil || strings.TrimSpace(*in.Label) == "" {
		return model.TariffEntry{}, ErrInvalidTariff.withMessage("label is required")
	}
	if in.Category == nil || !model.ValidCategory(strings.ToLower(*in.Category)) {
		return model.TariffEntry{}, ErrInvalidTariff.withMessage("category must be one of zoo, parking, camera, transport")
	}
	if in.Price == nil || *in.Price < 0 {
		return model.TariffEntry{}, ErrInvalidTariff.withMessage("price must be zero or more")
	}
	if err := validateWindow(in.ValidFrom, in.ValidTo); err != nil {
		return model.TariffEntry{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	ordered, visible, err := s.reconcile(ctx)
	if err != nil {
		return model.TariffEntry{}, ErrInternal.wrap(err)
	}
	if e, ok := s.find(visible, code); ok && e.IsActive {
		return model.TariffEntry{}, ErrTariffExists
	}

	categoryCode := code
	if in.CategoryCode != nil && strings.TrimSpace(*in.CategoryCode) != "" {
		categoryCode = strings.ToLower(strings.TrimSpace(*in.CategoryCode))
	}
	lastActive := 0
	insertAt := 0
	for i, r := range ordered {
		if r.IsActive || s.IsProtected(r.ItemCode) {
			lastActive = r.DisplayOrder
			insertAt = i + 1
		}
	}
	e := model.TariffEntry{
		ItemCode:     code,
		CategoryCode: categoryCode,
		Label:        strings.TrimSpace(*in.Label),
		Category:     strings.ToLower(*in.Category),
		Price:        roundMoney(*in.Price),
		DisplayOrder: lastActive + 1,
		IsActive:     true,
		ValidFrom:    blankToNil(in.ValidFrom),
		ValidTo:      blankToNil(in.ValidTo),
	}
	if err := checkSharedPrice(visible, e); err != nil {
		return model.TariffEntry{}, err
	}
	if err := s.store.Insert(ctx, &e); err != nil {
		return model.TariffEntry{}, ErrInternal.wrap(err)
	}

	// Shift every row after the insertion point so positions stay unique.
	next := make([]model.TariffEntry, 0, len(ordered)+1)
	next = append(next, ordered[:insertAt]...)
	next = append(next, e)
	next = append(next, ordered[insertAt:]...)
	s.applyPositions(ctx, next)
	if _, visible, err = s.reconcile(ctx); err == nil {
		if created, ok := s.find(visible, code); ok {
			e = created
		}
	}
	return e, nil
}

// UpdateTariff edits a non-protected tariff.
func (s *CatalogService) UpdateTariff(ctx context.Context, code string, in TariffInput) (model.TariffEntry, error) {
	code = strings.ToLower(strings.TrimSpace(code))
	if s.IsProtected(code) {
		return model.TariffEntry{}, ErrProtectedTariff
	}
	list, err := s.Resequence(ctx)
	if err != nil {
		return model.TariffEntry{}, ErrInternal.wrap(err)
	}
	e, ok := s.find(list, code)
	if !ok {
		return model.TariffEntry{}, ErrTariffNotFound
	}
	soldAs := categoryOf(e)
	if in.Label != nil {
		if strings.TrimSpace(*in.Label) == "" {
			return model.TariffEntry{}, ErrInvalidTariff.withMessage("label cannot be empty")
		}
		e.Label = strings.TrimSpace(*in.Label)
	}
	if in.Category != nil {
		c := strings.ToLower(strings.TrimSpace(*in.Category))
		if !model.ValidCategory(c) {
			return model.TariffEntry{}, ErrInvalidTariff.withMessage("category must be one of zoo, parking, camera, transport")
		}
		e.Category = c
	}
	if in.Price != nil {
		if *in.Price < 0 {
			return model.TariffEntry{}, ErrInvalidTariff.withMessage("price must be zero or more")
		}
		e.Price = roundMoney(*in.Price)
	}
	if in.CategoryCode != nil {
		cc := strings.ToLower(strings.TrimSpace(*in.CategoryCode))
		if !itemCodePattern.MatchString(cc) {
			return model.TariffEntry{}, ErrInvalidTariff.withMessage("categoryCode must match [a-z0-9_]+")
		}
		e.CategoryCode = cc
	}
	if in.ValidFrom != nil {
		e.ValidFrom = blankToNil(in.ValidFrom)
	}
	if in.ValidTo != nil {
		e.ValidTo = blankToNil(in.ValidTo)
	}
	if err := validateWindow(e.ValidFrom, e.ValidTo); err != nil {
		return model.TariffEntry{}, err
	}
	if categoryOf(e) != soldAs {
		used, err := s.store.IsReferenced(ctx, soldAs)
		if err != nil {
			return model.TariffEntry{}, ErrInternal.wrap(err)
		}
		if used {
			return model.TariffEntry{}, ErrTariffInUse.withMessage("categoryCode cannot change: tickets were sold as %q", soldAs)
		}
	}
	if e.IsActive {
		if err := checkSharedPrice(list, e); err != nil {
			return model.TariffEntry{}, err
		}
	}
	if err := s.store.Update(ctx, &e); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.TariffEntry{}, ErrTariffNotFound
		}
		return model.TariffEntry{}, ErrInternal.wrap(err)
	}
	return e, nil
}

// ToggleTariff flips the active flag of a non-protected tariff and
// returns the reconciled row.
func (s *CatalogService) ToggleTariff(ctx context.Context, code string) (model.TariffEntry, error) {
	code = strings.ToLower(strings.TrimSpace(code))
	if s.IsProtected(code) {
		return model.TariffEntry{}, ErrProtectedTariff
	}
	list, err := s.Resequence(ctx)
	if err != nil {
		return model.TariffEntry{}, ErrInternal.wrap(err)
	}
	e, ok := s.find(list, code)
	if !ok {
		return model.TariffEntry{}, ErrTariffNotFound
	}
	if !e.IsActive {
		on := e
		on.IsActive = true
		if err := checkSharedPrice(list, on); err != nil {
			return model.TariffEntry{}, err
		}
	}
	if err := s.store.SetActive(ctx, e.ID, !e.IsActive); err != nil {
		return model.TariffEntry{}, ErrInternal.wrap(err)
	}
	if _, err := s.Resequence(ctx); err != nil {
		log.WithError(err).WithField("item_code", code).Warn("tariff toggle: resequence failed")
	}
	after, err := s.store.GetByID(ctx, e.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.TariffEntry{}, ErrTariffNotFound
		}
		return model.TariffEntry{}, ErrInternal.wrap(err)
	}
	return after, nil
}

// MoveTariff repositions an active non-protected tariff.  Positions up to
// ReservedSlots belong to protected rows; targets past the last active
// row land at the end of the active block.
func (s *CatalogService) MoveTariff(ctx context.Context, code string, position int) ([]model.TariffEntry, error) {
	code = strings.ToLower(strings.TrimSpace(code))
	if s.IsProtected(code) {
		return nil, ErrProtectedTariff
	}
	if position <= len(s.canon) {
		return nil, ErrInvalidTariff.withMessage("displayOrder must be greater than %d", len(s.canon))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	ordered, visible, err := s.reconcile(ctx)
	if err != nil {
		return nil, ErrInternal.wrap(err)
	}
	target, ok := s.find(visible, code)
	if !ok {
		return nil, ErrTariffNotFound
	}
	if !target.IsActive {
		return nil, ErrInvalidTariff.withMessage("only active tariffs can be moved")
	}

	rest := make([]model.TariffEntry, 0, len(ordered))
	activeEnd := 0
	for _, r := range ordered {
		if r.ID == target.ID {
			continue
		}
		rest = append(rest, r)
		if r.IsActive || s.IsProtected(r.ItemCode) {
			activeEnd = len(rest)
		}
	}
	idx := position - 1
	if idx > activeEnd {
		idx = activeEnd
	}
	next := make([]model.TariffEntry, 0, len(ordered))
	next = append(next, rest[:idx]...)
	next = append(next, target)
	next = append(next, rest[idx:]...)
	s.applyPositions(ctx, next)

	if _, visible, err = s.reconcile(ctx); err != nil {
		return nil, ErrInternal.wrap(err)
	}
	return visible, nil
}

// DeleteTariff hard-deletes a non-protected tariff that no issued ticket
// references.
func (s *CatalogService) DeleteTariff(ctx context.Context, code string) error {
	code = strings.ToLower(strings.TrimSpace(code))
	if s.IsProtected(code) {
		return ErrProtectedTariff
	}
	list, err := s.Resequence(ctx)
	if err != nil {
		return ErrInternal.wrap(err)
	}
	e, ok := s.find(list, code)
	if !ok {
		return ErrTariffNotFound
	}
	used, err := s.store.IsReferenced(ctx, e.ItemCode, categoryOf(e))
	if err != nil {
		return ErrInternal.wrap(err)
	}
	if used {
		return ErrTariffInUse
	}
	if err := s.store.DeleteByItemCode(ctx, code); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrTariffNotFound
		}
		return ErrInternal.wrap(err)
	}
	_, _ = s.Resequence(ctx)
	return nil
}

// applyPositions numbers rows 1..len in slice order and writes the rows
// whose position moved.
func (s *CatalogService) applyPositions(ctx context.Context, rows []model.TariffEntry) {
	var changes []repository.OrderChange
	for i, r := range rows {
		if r.DisplayOrder != i+1 {
			changes = append(changes, repository.OrderChange{ID: r.ID, DisplayOrder: i + 1, IsActive: r.IsActive})
		}
	}
	if err := s.store.ApplyOrder(ctx, changes); err != nil {
		log.WithError(err).Error("tariff reorder: write failed")
	}
}

// categoryOf is the code a tariff is priced under and recorded as on
// ticket lines.
func categoryOf(e model.TariffEntry) string {
	if e.CategoryCode != "" {
		return e.CategoryCode
	}
	return e.ItemCode
}

// checkSharedPrice rejects e when another active row priced under the
// same category code charges a different price.  Cart lines merge by
// category, so one category has one price.
func checkSharedPrice(rows []model.TariffEntry, e model.TariffEntry) error {
	cat := categoryOf(e)
	for _, r := range rows {
		if r.ID == e.ID || !r.IsActive || categoryOf(r) != cat {
			continue
		}
		if !moneyEqual(r.Price, e.Price) {
			return ErrInvalidTariff.withMessage("categoryCode %q is already priced at %.2f by %q", cat, r.Price, r.ItemCode)
		}
	}
	return nil
}

func validateWindow(from, to *string) error {
	var f, t time.Time
	var err error
	if from != nil && *from != "" {
		if f, err = time.Parse(dateLayout, *from); err != nil {
			return ErrInvalidTariff.withMessage("validFrom must be YYYY-MM-DD")
		}
	}
	if to != nil && *to != "" {
		if t, err = time.Parse(dateLayout, *to); err != nil {
			return ErrInvalidTariff.withMessage("validTo must be YYYY-MM-DD")
		}
	}
	if !f.IsZero() && !t.IsZero() && t.Before(f) {
		return ErrInvalidTariff.withMessage("validTo is before validFrom")
	}
	return nil
}

func blankToNil(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}
