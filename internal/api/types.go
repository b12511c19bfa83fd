package api

// ExchangeStatusResponse from GET /exchange/status
type ExchangeStatusResponse struct {
	ExchangeActive      bool   `json:"exchange_active"`
	TradingActive       bool   `json:"trading_active"`
	EstimatedResumeTime string `json:"exchange_estimated_resume_time,omitempty"`
}

// ExchangeScheduleResponse from GET /exchange/schedule
type ExchangeScheduleResponse struct {
	Schedule ExchangeSchedule `json:"schedule"`
}

// ExchangeSchedule lists trading hours and planned maintenance.
type ExchangeSchedule struct {
	StandardHours      []StandardHours     `json:"standard_hours"`
	MaintenanceWindows []MaintenanceWindow `json:"maintenance_windows"`
}

// StandardHours is one weekly schedule with its validity window.
type StandardHours struct {
	StartTime string        `json:"start_time"`
	EndTime   string        `json:"end_time"`
	Monday    []DaySchedule `json:"monday"`
	Tuesday   []DaySchedule `json:"tuesday"`
	Wednesday []DaySchedule `json:"wednesday"`
	Thursday  []DaySchedule `json:"thursday"`
	Friday    []DaySchedule `json:"friday"`
	Saturday  []DaySchedule `json:"saturday"`
	Sunday    []DaySchedule `json:"sunday"`
}

// DaySchedule is one open/close pair.
type DaySchedule struct {
	OpenTime  string `json:"open_time"`
	CloseTime string `json:"close_time"`
}

// MaintenanceWindow is a planned outage.
type MaintenanceWindow struct {
	StartDatetime string `json:"start_datetime"`
	EndDatetime   string `json:"end_datetime"`
}

// MarketsResponse from GET /markets
type MarketsResponse struct {
	Markets []APIMarket `json:"markets"`
	Cursor  string      `json:"cursor"`
}

// APIMarket represents a market from the Kalshi API.
type APIMarket struct {
	Ticker        string `json:"ticker"`
	EventTicker   string `json:"event_ticker"`
	MarketType    string `json:"market_type"`
	Title         string `json:"title"`
	Subtitle      string `json:"subtitle"`
	YesSubTitle   string `json:"yes_sub_title"`
	NoSubTitle    string `json:"no_sub_title"`
	Status        string `json:"status"`
	Result        string `json:"result"`
	Category      string `json:"category"`
	CanCloseEarly bool   `json:"can_close_early"`

	// Prices in cents
	YesBid        int `json:"yes_bid"`
	YesAsk        int `json:"yes_ask"`
	NoBid         int `json:"no_bid"`
	NoAsk         int `json:"no_ask"`
	LastPrice     int `json:"last_price"`
	PreviousPrice int `json:"previous_price"`
	TickSize      int `json:"tick_size"`

	// Prices as strings (sub-penny)
	YesBidDollars    string `json:"yes_bid_dollars"`
	YesAskDollars    string `json:"yes_ask_dollars"`
	NoBidDollars     string `json:"no_bid_dollars"`
	NoAskDollars     string `json:"no_ask_dollars"`
	LastPriceDollars string `json:"last_price_dollars"`

	// Volume
	Volume       int64 `json:"volume"`
	Volume24h    int64 `json:"volume_24h"`
	Liquidity    int64 `json:"liquidity"`
	OpenInterest int64 `json:"open_interest"`

	// Timestamps (ISO 8601)
	OpenTime               string `json:"open_time"`
	CloseTime              string `json:"close_time"`
	ExpirationTime         string `json:"expiration_time"`
	ExpectedExpirationTime string `json:"expected_expiration_time"`
	LatestExpirationTime   string `json:"latest_expiration_time"`
	CreatedTime            string `json:"created_time"`

	RulesPrimary   string `json:"rules_primary"`
	RulesSecondary string `json:"rules_secondary"`

	// Settlement
	SettlementValue        *int    `json:"settlement_value"`
	SettlementValueDollars *string `json:"settlement_value_dollars"`
}

// SingleMarketResponse from GET /markets/{ticker}
type SingleMarketResponse struct {
	Market APIMarket `json:"market"`
}

// EventsResponse from GET /events
type EventsResponse struct {
	Events []APIEvent `json:"events"`
	Cursor string     `json:"cursor"`
}

// APIEvent represents an event from the Kalshi API.
type APIEvent struct {
	EventTicker       string      `json:"event_ticker"`
	SeriesTicker      string      `json:"series_ticker"`
	Title             string      `json:"title"`
	Subtitle          string      `json:"sub_title"`
	Category          string      `json:"category"`
	MutuallyExclusive bool        `json:"mutually_exclusive"`
	StrikeDate        string      `json:"strike_date,omitempty"`
	StrikePeriod      string      `json:"strike_period,omitempty"`
	Markets           []APIMarket `json:"markets,omitempty"`
}

// SingleEventResponse from GET /events/{event_ticker}
type SingleEventResponse struct {
	Event   APIEvent    `json:"event"`
	Markets []APIMarket `json:"markets"`
}

// SeriesResponse from GET /series/{series_ticker}
type SeriesResponse struct {
	Series APISeries `json:"series"`
}

// SeriesListResponse from GET /series
type SeriesListResponse struct {
	Series []APISeries `json:"series"`
	Cursor string      `json:"cursor"`
}

// APISeries represents a series from the Kalshi API.
type APISeries struct {
	Ticker            string             `json:"ticker"`
	Title             string             `json:"title"`
	Category          string             `json:"category"`
	Frequency         string             `json:"frequency"`
	Tags              []string           `json:"tags"`
	SettlementSources []SettlementSource `json:"settlement_sources"`
	ContractURL       string             `json:"contract_url,omitempty"`
}

// SettlementSource names where a series' outcomes are determined.
type SettlementSource struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// OrderbookResponse from GET /markets/{ticker}/orderbook
type OrderbookResponse struct {
	Orderbook APIOrderbook `json:"orderbook"`
}

// APIOrderbook represents the orderbook from the Kalshi API.
type APIOrderbook struct {
	// Levels as [price_cents, quantity] pairs
	Yes [][]int `json:"yes"`
	No  [][]int `json:"no"`
}

// TradesResponse from GET /markets/trades
type TradesResponse struct {
	Trades []APITrade `json:"trades"`
	Cursor string     `json:"cursor"`
}

// APITrade is a public execution.
type APITrade struct {
	TradeID     string `json:"trade_id"`
	Ticker      string `json:"ticker"`
	TakerSide   string `json:"taker_side"`
	Count       int    `json:"count"`
	YesPrice    int    `json:"yes_price"`
	NoPrice     int    `json:"no_price"`
	CreatedTime string `json:"created_time"`
}

// CandlesticksResponse from GET /series/{series}/markets/{ticker}/candlesticks
type CandlesticksResponse struct {
	Ticker       string      `json:"ticker"`
	Candlesticks []APICandle `json:"candlesticks"`
}

// APICandle is one OHLC bucket. Prices are nested per side.
type APICandle struct {
	EndPeriodTS  int64    `json:"end_period_ts"`
	YesBid       OHLC     `json:"yes_bid"`
	YesAsk       OHLC     `json:"yes_ask"`
	Price        OHLCLast `json:"price"`
	Volume       int64    `json:"volume"`
	OpenInterest int64    `json:"open_interest"`
}

// OHLC is an open/high/low/close set in cents.
type OHLC struct {
	Open  int `json:"open"`
	High  int `json:"high"`
	Low   int `json:"low"`
	Close int `json:"close"`
}

// OHLCLast is the traded-price candle; fields are absent when nothing traded.
type OHLCLast struct {
	Open     *int `json:"open"`
	High     *int `json:"high"`
	Low      *int `json:"low"`
	Close    *int `json:"close"`
	Mean     *int `json:"mean"`
	Previous *int `json:"previous"`
}

// BalanceResponse from GET /portfolio/balance
type BalanceResponse struct {
	Balance        int64 `json:"balance"` // cents
	PortfolioValue int64 `json:"portfolio_value"`
	UpdatedTS      int64 `json:"updated_ts"`
}

// PositionsResponse from GET /portfolio/positions
type PositionsResponse struct {
	MarketPositions []APIMarketPosition `json:"market_positions"`
	EventPositions  []APIEventPosition  `json:"event_positions"`
	Cursor          string              `json:"cursor"`
}

// APIMarketPosition is the account's holding in one market. Position is
// signed: positive is YES contracts, negative is NO.
type APIMarketPosition struct {
	Ticker             string `json:"ticker"`
	Position           int    `json:"position"`
	MarketExposure     int64  `json:"market_exposure"`
	RealizedPnl        int64  `json:"realized_pnl"`
	RestingOrdersCount int    `json:"resting_orders_count"`
	FeesPaid           int64  `json:"fees_paid"`
	TotalTraded        int64  `json:"total_traded"`
	LastUpdatedTS      string `json:"last_updated_ts"`
}

// APIEventPosition aggregates positions across an event.
type APIEventPosition struct {
	EventTicker   string `json:"event_ticker"`
	EventExposure int64  `json:"event_exposure"`
	RealizedPnl   int64  `json:"realized_pnl"`
	FeesPaid      int64  `json:"fees_paid"`
	TotalCost     int64  `json:"total_cost"`
}

// FillsResponse from GET /portfolio/fills
type FillsResponse struct {
	Fills  []APIFill `json:"fills"`
	Cursor string    `json:"cursor"`
}

// APIFill is one execution against one of the account's orders.
type APIFill struct {
	TradeID     string `json:"trade_id"`
	OrderID     string `json:"order_id"`
	Ticker      string `json:"ticker"`
	Side        string `json:"side"`
	Action      string `json:"action"`
	Count       int    `json:"count"`
	YesPrice    int    `json:"yes_price"`
	NoPrice     int    `json:"no_price"`
	IsTaker     bool   `json:"is_taker"`
	CreatedTime string `json:"created_time"`
}

// OrdersResponse from GET /portfolio/orders
type OrdersResponse struct {
	Orders []APIOrder `json:"orders"`
	Cursor string     `json:"cursor"`
}

// SingleOrderResponse from GET /portfolio/orders/{order_id} and the
// create/cancel/amend/decrease endpoints.
type SingleOrderResponse struct {
	Order APIOrder `json:"order"`
}

// APIOrder is the exchange's authoritative view of an order.
type APIOrder struct {
	OrderID         string `json:"order_id"`
	ClientOrderID   string `json:"client_order_id"`
	UserID          string `json:"user_id,omitempty"`
	Ticker          string `json:"ticker"`
	Status          string `json:"status"` // resting, canceled, executed, pending
	Side            string `json:"side"`
	Action          string `json:"action"`
	Type            string `json:"type"`
	YesPrice        int    `json:"yes_price"`
	NoPrice         int    `json:"no_price"`
	YesPriceDollars string `json:"yes_price_dollars,omitempty"`
	NoPriceDollars  string `json:"no_price_dollars,omitempty"`
	InitialCount    int    `json:"initial_count"`
	FillCount       int    `json:"fill_count"`
	RemainingCount  int    `json:"remaining_count"`
	ExpirationTime  string `json:"expiration_time,omitempty"`
	CreatedTime     string `json:"created_time,omitempty"`
	LastUpdateTime  string `json:"last_update_time,omitempty"`
}

// GetMarketsOptions configures a GetMarkets request.
type GetMarketsOptions struct {
	Limit        int
	Cursor       string
	EventTicker  string
	SeriesTicker string
	Tickers      []string
	Status       string
	MinCloseTS   int64
	MaxCloseTS   int64
}

// GetEventsOptions configures a GetEvents request.
type GetEventsOptions struct {
	Limit             int
	Cursor            string
	SeriesTicker      string
	Status            string
	WithNestedMarkets bool
}

// GetSeriesListOptions configures a GetSeriesList request.
type GetSeriesListOptions struct {
	Category string
	Tags     []string
	Cursor   string
	Limit    int
}

// GetTradesOptions configures a GetTrades request.
type GetTradesOptions struct {
	Limit  int
	Cursor string
	Ticker string
	MinTS  int64
	MaxTS  int64
}

// GetCandlesticksOptions configures a GetMarketCandlesticks request.
type GetCandlesticksOptions struct {
	StartTS        int64
	EndTS          int64
	PeriodInterval int // minutes: 1, 60 or 1440
}

// GetPositionsOptions configures a GetPositions request.
type GetPositionsOptions struct {
	Limit       int
	Cursor      string
	Ticker      string
	EventTicker string
}

// GetFillsOptions configures a GetFills request.
type GetFillsOptions struct {
	Limit   int
	Cursor  string
	Ticker  string
	OrderID string
	MinTS   int64
	MaxTS   int64
}

// GetOrdersOptions configures a GetOrders request.
type GetOrdersOptions struct {
	Limit       int
	Cursor      string
	Ticker      string
	EventTicker string
	Status      string
	MinTS       int64
	MaxTS       int64
}
