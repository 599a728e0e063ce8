package okx

import "github.com/shopspring/decimal"

type rawLevel [4]string // [price, size, deprecated, numOrders]

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

// arg identifies a channel+instId pair, OKX's routing key for every push.
type arg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

// subscribeRequest is the op:"subscribe" frame sent once per connection
// listing every channel+instId this adapter wants.
type subscribeRequest struct {
	Op   string `json:"op"`
	Args []arg  `json:"args"`
}

// booksPush is one "books" channel push: a snapshot (full replace) or an
// update (diff), distinguished by Action.
type booksPush struct {
	Arg    arg             `json:"arg"`
	Action string          `json:"action"`
	Data   []booksPushData `json:"data"`
}

type booksPushData struct {
	Asks      []rawLevel `json:"asks"`
	Bids      []rawLevel `json:"bids"`
	Timestamp string     `json:"ts"`
	SeqID     int64      `json:"seqId"`
	PrevSeqID int64      `json:"prevSeqId"`
}

// tickersPush is one "tickers" channel push.
type tickersPush struct {
	Arg  arg               `json:"arg"`
	Data []tickersPushData `json:"data"`
}

type tickersPushData struct {
	InstID    string `json:"instId"`
	Last      string `json:"last"`
	BidPx     string `json:"bidPx"`
	AskPx     string `json:"askPx"`
	Timestamp string `json:"ts"`
}

// restBooksResponse is the GET /api/v5/market/books response shape.
type restBooksResponse struct {
	Code string              `json:"code"`
	Data []restBooksRespData `json:"data"`
}

type restBooksRespData struct {
	Asks      []rawLevel `json:"asks"`
	Bids      []rawLevel `json:"bids"`
	Timestamp string     `json:"ts"`
}

// restTickerResponse is the GET /api/v5/market/ticker response shape.
type restTickerResponse struct {
	Code string                `json:"code"`
	Data []restTickerRespData `json:"data"`
}

type restTickerRespData struct {
	InstID string `json:"instId"`
	Last   string `json:"last"`
	BidPx  string `json:"bidPx"`
	AskPx  string `json:"askPx"`
}
