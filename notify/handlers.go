package notify

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/warp/ledger-engine/ledger"
)

// LogEvents returns a handler that writes one info line per event. The
// server subscribes it for every event so notifications leave an audit
// trail even without an outbound integration.
func LogEvents(log zerolog.Logger) Handler {
	return func(_ context.Context, e ledger.Event) error {
		ev := log.Info().Str("event", e.EventName())
		switch v := e.(type) {
		case ledger.ContributionRecorded:
			ev = ev.Str("org_id", string(v.OrgID)).
				Str("income_id", string(v.IncomeID)).
				Str("member_id", string(v.MemberID)).
				Str("category", v.Category).
				Str("amount", v.Amount.String()).
				Str("currency", v.Currency)
		case ledger.LiabilitySettled:
			ev = ev.Str("org_id", string(v.OrgID)).
				Str("liability_id", string(v.LiabilityID)).
				Str("creditor", v.Creditor).
				Str("amount_paid", v.AmountPaid.String())
		case ledger.AssetDisposedEvent:
			ev = ev.Str("org_id", string(v.OrgID)).
				Str("disposal_id", string(v.DisposalID)).
				Str("asset_id", string(v.AssetID)).
				Str("amount", v.Amount.String())
		}
		ev.Msg("ledger event")
		return nil
	}
}
