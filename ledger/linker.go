/*
linker.go - Transaction Classifier & Linker

PURPOSE:
  Composite commands whose rows only make sense together. Each runs as one
  Service command, so every row it writes commits or none does.

COMPOSITES:
  Disposal:          asset ──▶ Income{"Asset Disposal"} ──▶ Disposal row
                     asset.status = disposed, previous_status remembered
  Liability payment: Expenditure{"Liabilities", linked} ──▶ amount_paid += amount
  Liability delete:  every linked entry first, then the liability row

REVERSAL:
  deleteDisposal     Disposal row, then its income (balance reversed),
                     asset back to previous_status (or available)
  removePayment      Expenditure (balance reversed), amount_paid −= amount,
                     floored at zero

SEE ALSO:
  - transactions.go: insertEntry / removeEntry used by every composite
  - cascade.go: executor behind DeleteLiability
*/
package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// DISPOSALS
// =============================================================================

type CreateDisposal struct {
	AssetID   AssetID   `validate:"required"`
	AccountID AccountID `validate:"required"`
	Date      time.Time
	Amount    decimal.Decimal
	Notes     string
}

// CreateDisposal records the sale of an asset: the income, the disposal row
// and the asset status change commit together.
func (s *Service) CreateDisposal(ctx context.Context, cmd CreateDisposal) (Disposal, error) {
	if err := checkCommand(cmd); err != nil {
		return Disposal{}, err
	}
	now := s.stamp()
	in := &Income{
		EntryHeader: EntryHeader{
			ID:        TransactionID(s.newID()),
			OrgID:     s.org,
			Date:      dayOrZero(cmd.Date),
			Amount:    cmd.Amount,
			CreatedAt: now,
		},
		AccountID:     cmd.AccountID,
		Category:      CategoryAssetDisposal,
		LinkedAssetID: cmd.AssetID,
	}
	if err := in.Validate(); err != nil {
		return Disposal{}, err
	}
	d := Disposal{
		ID:        DisposalID(s.newID()),
		OrgID:     s.org,
		AssetID:   cmd.AssetID,
		AccountID: cmd.AccountID,
		Date:      in.Date,
		Amount:    cmd.Amount,
		IncomeID:  in.ID,
		Notes:     strings.TrimSpace(cmd.Notes),
		CreatedAt: now,
	}

	err := s.run(ctx, "create_disposal", fixedKeys(entryKeys(in)...), func(st Store) error {
		asset, err := st.GetAsset(ctx, cmd.AssetID)
		if err != nil {
			return err
		}
		if asset.Status == AssetDisposed {
			return fmt.Errorf("%w: asset %s", ErrAssetAlreadyDisposed, asset.ID)
		}
		in.Source = "Disposal of " + asset.Name
		if _, err := s.ensureSystemCategory(ctx, st, CategoryIncome, CategoryAssetDisposal); err != nil {
			return err
		}
		if err := s.insertEntry(ctx, st, in); err != nil {
			return err
		}
		if err := st.InsertDisposal(ctx, d); err != nil {
			return err
		}
		asset.PreviousStatus = asset.Status
		asset.Status = AssetDisposed
		return st.SaveAsset(ctx, asset)
	})
	if err != nil {
		return Disposal{}, err
	}
	s.publish(ctx, AssetDisposedEvent{
		OrgID:      d.OrgID,
		DisposalID: d.ID,
		AssetID:    d.AssetID,
		AccountID:  d.AccountID,
		Amount:     d.Amount,
		Date:       d.Date,
	})
	return d, nil
}

// DeleteDisposal reverses a disposal: the disposal row and its income go,
// the account balance drops back and the asset regains its prior status.
func (s *Service) DeleteDisposal(ctx context.Context, id DisposalID) error {
	resolve := func(ctx context.Context) ([]string, error) {
		d, err := s.store.GetDisposal(ctx, id)
		if err != nil {
			return nil, err
		}
		return []string{accountKey(d.AccountID), assetKey(d.AssetID)}, nil
	}
	return s.run(ctx, "delete_disposal", resolve, func(st Store) error {
		d, err := st.GetDisposal(ctx, id)
		if err != nil {
			return err
		}
		return s.deleteDisposal(ctx, st, d)
	})
}

func (s *Service) deleteDisposal(ctx context.Context, st Store, d Disposal) error {
	if err := s.detachDisposal(ctx, st, d); err != nil {
		return err
	}
	in, err := st.GetEntry(ctx, d.IncomeID)
	if IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.removeEntry(ctx, st, in)
}

// detachDisposal deletes the disposal row and restores the asset. The
// linked income is left to the caller.
func (s *Service) detachDisposal(ctx context.Context, st Store, d Disposal) error {
	if err := st.DeleteDisposal(ctx, d.ID); err != nil {
		return err
	}
	asset, err := st.GetAsset(ctx, d.AssetID)
	if IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	asset.Status = asset.PreviousStatus
	if asset.Status == "" {
		asset.Status = AssetAvailable
	}
	asset.PreviousStatus = ""
	return st.SaveAsset(ctx, asset)
}

func (s *Service) GetDisposal(ctx context.Context, id DisposalID) (Disposal, error) {
	return s.store.GetDisposal(ctx, id)
}

func (s *Service) ListDisposals(ctx context.Context, f DisposalFilter) ([]Disposal, error) {
	f.OrgID = s.org
	return s.store.ListDisposals(ctx, f)
}

// =============================================================================
// LIABILITIES
// =============================================================================

type CreateLiability struct {
	Date           time.Time
	Category       string `validate:"required"`
	Creditor       string `validate:"required"`
	Description    string
	OriginalAmount decimal.Decimal
}

func (s *Service) CreateLiability(ctx context.Context, cmd CreateLiability) (Liability, error) {
	if err := checkCommand(cmd); err != nil {
		return Liability{}, err
	}
	if !cmd.OriginalAmount.IsPositive() {
		return Liability{}, invalid("original_amount", "must be greater than zero, got %s", cmd.OriginalAmount)
	}
	if cmd.Date.IsZero() {
		return Liability{}, invalid("date", "is required")
	}
	now := s.stamp()
	l := Liability{
		ID:             LiabilityID(s.newID()),
		OrgID:          s.org,
		Date:           Day(cmd.Date),
		Category:       cmd.Category,
		Creditor:       strings.TrimSpace(cmd.Creditor),
		Description:    strings.TrimSpace(cmd.Description),
		OriginalAmount: cmd.OriginalAmount,
		AmountPaid:     decimal.Zero,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err := s.run(ctx, "create_liability", fixedKeys(liabilityKey(l.ID)), func(st Store) error {
		c, err := s.findCategory(ctx, st, CategoryLiability, l.Category)
		if err != nil {
			return err
		}
		l.Category = c.Name
		return st.InsertLiability(ctx, l)
	})
	if err != nil {
		return Liability{}, err
	}
	return l, nil
}

// UpdateLiability edits the descriptive fields and the original amount.
// AmountPaid is owned by the payments and can't be set.
type UpdateLiability struct {
	ID             LiabilityID `validate:"required"`
	Date           time.Time
	Category       string
	Creditor       string
	Description    *string
	OriginalAmount *decimal.Decimal
}

func (s *Service) UpdateLiability(ctx context.Context, cmd UpdateLiability) (Liability, error) {
	if err := checkCommand(cmd); err != nil {
		return Liability{}, err
	}
	if cmd.OriginalAmount != nil && !cmd.OriginalAmount.IsPositive() {
		return Liability{}, invalid("original_amount", "must be greater than zero, got %s", *cmd.OriginalAmount)
	}
	var out Liability
	var settled bool
	err := s.run(ctx, "update_liability", fixedKeys(liabilityKey(cmd.ID)), func(st Store) error {
		l, err := st.GetLiability(ctx, cmd.ID)
		if err != nil {
			return err
		}
		before := l.Status()
		if !cmd.Date.IsZero() {
			l.Date = Day(cmd.Date)
		}
		if cmd.Category != "" {
			c, err := s.findCategory(ctx, st, CategoryLiability, cmd.Category)
			if err != nil {
				return err
			}
			l.Category = c.Name
		}
		if creditor := strings.TrimSpace(cmd.Creditor); creditor != "" {
			l.Creditor = creditor
		}
		if cmd.Description != nil {
			l.Description = strings.TrimSpace(*cmd.Description)
		}
		if cmd.OriginalAmount != nil {
			l.OriginalAmount = *cmd.OriginalAmount
		}
		l.UpdatedAt = s.stamp()
		settled = before != LiabilityPaid && l.Status() == LiabilityPaid
		out = l
		return st.UpdateLiability(ctx, l)
	})
	if err != nil {
		return Liability{}, err
	}
	if settled {
		s.publish(ctx, settledEvent(out, out.UpdatedAt))
	}
	return out, nil
}

// adjustAmountPaid moves a liability's amount paid by delta, floored at
// zero. paid reports a transition into LiabilityPaid.
func (s *Service) adjustAmountPaid(ctx context.Context, st Store, id LiabilityID, delta decimal.Decimal) (l Liability, paid bool, err error) {
	l, err = st.GetLiability(ctx, id)
	if err != nil {
		return l, false, err
	}
	before := l.Status()
	l.AmountPaid = l.AmountPaid.Add(delta)
	if l.AmountPaid.IsNegative() {
		l.AmountPaid = decimal.Zero
	}
	l.UpdatedAt = s.stamp()
	if err := st.UpdateLiability(ctx, l); err != nil {
		return l, false, err
	}
	return l, before != LiabilityPaid && l.Status() == LiabilityPaid, nil
}

func settledEvent(l Liability, on time.Time) LiabilitySettled {
	return LiabilitySettled{
		OrgID:          l.OrgID,
		LiabilityID:    l.ID,
		Creditor:       l.Creditor,
		OriginalAmount: l.OriginalAmount,
		AmountPaid:     l.AmountPaid,
		Date:           on,
	}
}

type RecordLiabilityPayment struct {
	LiabilityID LiabilityID `validate:"required"`
	AccountID   AccountID   `validate:"required"`
	Date        time.Time
	Amount      decimal.Decimal
	Description string
	Method      string
}

// RecordLiabilityPayment pays a liability from an account. Paying more than
// the outstanding balance is accepted; the liability simply reads as paid.
func (s *Service) RecordLiabilityPayment(ctx context.Context, cmd RecordLiabilityPayment) (*Expenditure, error) {
	if err := checkCommand(cmd); err != nil {
		return nil, err
	}
	ex := &Expenditure{
		EntryHeader: EntryHeader{
			ID:        TransactionID(s.newID()),
			OrgID:     s.org,
			Date:      dayOrZero(cmd.Date),
			Amount:    cmd.Amount,
			CreatedAt: s.stamp(),
		},
		AccountID:         cmd.AccountID,
		Description:       strings.TrimSpace(cmd.Description),
		Category:          CategoryLiabilities,
		Method:            cmd.Method,
		LinkedLiabilityID: cmd.LiabilityID,
	}
	if err := ex.Validate(); err != nil {
		return nil, err
	}

	var settled *Liability
	err := s.run(ctx, "record_liability_payment", fixedKeys(entryKeys(ex)...), func(st Store) error {
		l, err := st.GetLiability(ctx, cmd.LiabilityID)
		if err != nil {
			return err
		}
		if ex.Description == "" {
			ex.Description = "Payment to " + l.Creditor
		}
		if _, err := s.ensureSystemCategory(ctx, st, CategoryExpense, CategoryLiabilities); err != nil {
			return err
		}
		if err := s.insertEntry(ctx, st, ex); err != nil {
			return err
		}
		updated, paid, err := s.adjustAmountPaid(ctx, st, l.ID, ex.Amount)
		if err != nil {
			return err
		}
		if paid {
			settled = &updated
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if settled != nil {
		s.publish(ctx, settledEvent(*settled, ex.Date))
	}
	return ex, nil
}

// DeleteLiabilityPayment removes a payment expenditure and gives its amount
// back to the liability.
func (s *Service) DeleteLiabilityPayment(ctx context.Context, id TransactionID) error {
	return s.run(ctx, "delete_liability_payment", s.entryResolver(id, nil), func(st Store) error {
		e, err := st.GetEntry(ctx, id)
		if err != nil {
			return err
		}
		ex, ok := e.(*Expenditure)
		if !ok || ex.LinkedLiabilityID == "" {
			return invalid("id", "transaction %s is not a liability payment", id)
		}
		return s.removeLiabilityPayment(ctx, st, ex)
	})
}

func (s *Service) removeLiabilityPayment(ctx context.Context, st Store, ex *Expenditure) error {
	if err := s.removeEntry(ctx, st, ex); err != nil {
		return err
	}
	_, _, err := s.adjustAmountPaid(ctx, st, ex.LinkedLiabilityID, ex.Amount.Neg())
	if IsNotFound(err) {
		return nil
	}
	return err
}

// DeleteLiability removes a liability and every entry linked to it. Each
// payment's account balance is restored before the liability row goes.
func (s *Service) DeleteLiability(ctx context.Context, id LiabilityID) (CascadeReport, error) {
	resolve := func(ctx context.Context) ([]string, error) {
		if _, err := s.store.GetLiability(ctx, id); err != nil {
			return nil, err
		}
		linked, err := s.store.ListEntries(ctx, EntryFilter{OrgID: s.org, LiabilityID: id})
		if err != nil {
			return nil, err
		}
		keys := []string{liabilityKey(id)}
		for _, e := range linked {
			keys = append(keys, entryKeys(e)...)
		}
		return keys, nil
	}

	var report CascadeReport
	err := s.run(ctx, "delete_liability", resolve, func(st Store) error {
		if _, err := st.GetLiability(ctx, id); err != nil {
			return err
		}
		c := newCascade()
		if err := s.planLiability(ctx, st, c, id); err != nil {
			return err
		}
		var err error
		report, err = c.execute(ctx, st)
		return err
	})
	return report, err
}

// planLiability adds the liability and its linked entries to c. Entries are
// removed before the liability row.
func (s *Service) planLiability(ctx context.Context, st Store, c *cascade, id LiabilityID) error {
	linked, err := st.ListEntries(ctx, EntryFilter{OrgID: s.org, LiabilityID: id})
	if err != nil {
		return err
	}
	var deps []string
	for _, e := range linked {
		e := e // per-iteration copy: go.mod targets go 1.21 loop semantics
		key := "entry:" + string(e.Header().ID)
		kind := "income"
		if _, ok := e.(*Expenditure); ok {
			kind = "expenditure"
		}
		c.add(key, kind, func(ctx context.Context, st Store) error {
			return s.removeEntry(ctx, st, e)
		})
		deps = append(deps, key)
	}
	c.add("liability:"+string(id), "liability", func(ctx context.Context, st Store) error {
		return st.DeleteLiability(ctx, id)
	}, deps...)
	return nil
}

func (s *Service) GetLiability(ctx context.Context, id LiabilityID) (Liability, error) {
	return s.store.GetLiability(ctx, id)
}

func (s *Service) ListLiabilities(ctx context.Context, category string) ([]Liability, error) {
	return s.store.ListLiabilities(ctx, LiabilityFilter{OrgID: s.org, Category: category})
}

// =============================================================================
// ENTITY STORE PASS-THROUGH
// =============================================================================

// SaveAsset registers or updates an asset owned by the entity store. Status
// changes to and from disposed belong to the disposal commands.
func (s *Service) SaveAsset(ctx context.Context, a Asset) error {
	if a.ID == "" {
		return invalid("id", "is required")
	}
	if a.OrgID == "" {
		a.OrgID = s.org
	}
	if a.Status == "" {
		a.Status = AssetAvailable
	}
	return s.run(ctx, "save_asset", fixedKeys(assetKey(a.ID)), func(st Store) error {
		prev, err := st.GetAsset(ctx, a.ID)
		if err != nil && !IsNotFound(err) {
			return err
		}
		if err == nil && (prev.Status == AssetDisposed) != (a.Status == AssetDisposed) {
			return invalid("status", "disposal status is managed by disposals")
		}
		if err != nil && a.Status == AssetDisposed {
			return invalid("status", "disposal status is managed by disposals")
		}
		return st.SaveAsset(ctx, a)
	})
}

func (s *Service) GetAsset(ctx context.Context, id AssetID) (Asset, error) {
	return s.store.GetAsset(ctx, id)
}

func (s *Service) SaveMember(ctx context.Context, m Member) error {
	if m.ID == "" {
		return invalid("id", "is required")
	}
	if m.OrgID == "" {
		m.OrgID = s.org
	}
	return s.store.SaveMember(ctx, m)
}
