package binance

import "github.com/shopspring/decimal"

// rawLevel is a [price, quantity] pair as Binance encodes it: two JSON
// strings in an array, not an object.
type rawLevel [2]string

func (l rawLevel) toPriceLevel() (decimal.Decimal, decimal.Decimal, error) {
	price, err := decimal.NewFromString(l[0])
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	qty, err := decimal.NewFromString(l[1])
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return price, qty, nil
}

// futuresDepthEvent is one <symbol>@depth@100ms diff message: carries a
// monotone update id range (U..u) and the previous final update id (pu);
// a pu that differs from the client's last applied u means a diff was
// missed.
type futuresDepthEvent struct {
	EventType     string     `json:"e"`
	EventTime     int64      `json:"E"`
	TransactTime  int64      `json:"T"`
	Symbol        string     `json:"s"`
	FirstUpdateID int64      `json:"U"`
	FinalUpdateID int64      `json:"u"`
	PrevFinalID   int64      `json:"pu"`
	Bids          []rawLevel `json:"b"`
	Asks          []rawLevel `json:"a"`
}

// spotDepthEvent is one <symbol>@depth<levels> message: a full top-N
// resend, not a diff. It carries no symbol and no server timestamp; the
// subscribing context supplies both.
type spotDepthEvent struct {
	LastUpdateID int64      `json:"lastUpdateId"`
	Bids         []rawLevel `json:"bids"`
	Asks         []rawLevel `json:"asks"`
}

// restDepthResponse is the REST GET /depth response shape, shared by spot
// and futures (futures additionally returns E/T, ignored here).
type restDepthResponse struct {
	LastUpdateID int64      `json:"lastUpdateId"`
	Bids         []rawLevel `json:"bids"`
	Asks         []rawLevel `json:"asks"`
}

// tickerEvent is a 24hr mini-ticker / mark-price style push; fields beyond
// last price, mark price and best bid/ask are ignored.
type tickerEvent struct {
	EventType string `json:"e"`
	Symbol    string `json:"s"`
	EventTime int64  `json:"E"`
	LastPrice string `json:"c"`
	MarkPrice string `json:"p"`
	BestBid   string `json:"b"`
	BestAsk   string `json:"a"`
}
