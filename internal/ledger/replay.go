package ledger

import (
	"errors"
	"fmt"

	"github.com/vaultdesk/pnl-engine/internal/asset"
	"github.com/vaultdesk/pnl-engine/internal/model"
	"github.com/vaultdesk/pnl-engine/internal/pnl"
)

// ErrUnknownKind is returned for journal entries of an unrecognised kind.
var ErrUnknownKind = errors.New("ledger: unknown journal entry kind")

// Apply performs one journal entry against e. Live requests and journal
// replay both go through Apply, so a rebuilt engine matches the one that
// served the requests.
//
// Sells and trades carry the method that selected their lots. It is made
// active before the sell so that replay does not depend on the default
// method of the process doing the replay.
func Apply(e *pnl.Engine, entry model.JournalEntry) (*pnl.SellResult, error) {
	switch entry.Kind {
	case model.KindBuy:
		sym, err := asset.ParseSymbol(entry.Symbol)
		if err != nil {
			return nil, err
		}
		return nil, e.RecordBuy(sym, entry.Quantity, entry.Value, entry.Timestamp)

	case model.KindSell, model.KindSellLots:
		sym, err := asset.ParseSymbol(entry.Symbol)
		if err != nil {
			return nil, err
		}
		if err := useMethod(e, entry.Method); err != nil {
			return nil, err
		}
		if entry.Kind == model.KindSellLots {
			return e.RecordSellLots(sym, entry.LotIDs, entry.Quantity, entry.Value, entry.Timestamp)
		}
		return e.RecordSell(sym, entry.Quantity, entry.Value, entry.Timestamp)

	case model.KindTrade:
		from, err := asset.ParseSymbol(entry.Symbol)
		if err != nil {
			return nil, err
		}
		to, err := asset.ParseSymbol(entry.ToSymbol)
		if err != nil {
			return nil, err
		}
		if err := useMethod(e, entry.Method); err != nil {
			return nil, err
		}
		return e.RecordTrade(from, entry.Quantity, to, entry.ToQuantity, entry.Value, entry.ToValue, entry.Timestamp)

	case model.KindMethod:
		m, err := pnl.ParseMethod(entry.Method)
		if err != nil {
			return nil, err
		}
		return nil, e.SetMethod(m)

	case model.KindReset:
		e.Reset()
		return nil, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, entry.Kind)
	}
}

// Replay rebuilds an engine from entries in sequence order.
func Replay(entries []model.JournalEntry, method pnl.Method) (*pnl.Engine, error) {
	e := pnl.NewEngine(method)
	for _, entry := range entries {
		if _, err := Apply(e, entry); err != nil {
			return nil, fmt.Errorf("ledger: replay entry %d (%s): %w", entry.Seq, entry.ID, err)
		}
	}
	return e, nil
}

func useMethod(e *pnl.Engine, method string) error {
	if method == "" {
		return nil
	}
	m, err := pnl.ParseMethod(method)
	if err != nil {
		return err
	}
	return e.SetMethod(m)
}
