package relayer

import (
	"github.com/imkira/go-ttlmap"

	"relayer/internal/quote"
)

// Quote prices a swap. Quotes with an estimate attached are cached by quote id
// for QuoteTTL so clients can correlate a later order submission.
func (r *Relayer) Quote(req quote.Request) (quote.Response, error) {
	resp, err := r.engine.Quote(req)
	if err != nil {
		return quote.Response{}, err
	}

	if resp.QuoteID != "" {
		r.cacheQuote(resp.QuoteID, resp)
	}
	return resp, nil
}

// BuildQuote prices a swap and derives the auction preset for order creation.
func (r *Relayer) BuildQuote(req quote.Request) (quote.BuildResponse, error) {
	resp, err := r.engine.Build(req)
	if err != nil {
		return quote.BuildResponse{}, err
	}

	r.cacheQuote(resp.QuoteID, resp)
	return resp, nil
}

// CachedQuote fetches a previously issued quote by its id. Expired and unknown
// ids report the same miss.
func (r *Relayer) CachedQuote(quoteID string) (interface{}, error) {
	item, err := r.quotes.Get(quoteID)
	if err != nil {
		return nil, ErrQuoteNotFound
	}
	return item.Value(), nil
}

func (r *Relayer) cacheQuote(id string, v interface{}) {
	item := ttlmap.NewItem(v, ttlmap.WithTTL(QuoteTTL))
	if err := r.quotes.Set(id, item, nil); err != nil {
		r.logger.Warn().Err(err).Str("quoteId", id).Msg("quote cache set failed")
	}
}
