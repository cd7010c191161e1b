package schema

import (
	"fmt"
	"sort"
)

// Catalog is the closed, build-time universe of tables. The zero value
// is usable; NewCatalog returns one pre-populated with every canonical
// table.
type Catalog struct {
	tables map[string]*TableSpec
}

// NewCatalog builds the canonical catalog.
func NewCatalog() *Catalog {
	c := &Catalog{tables: make(map[string]*TableSpec)}
	for _, t := range builtinTables() {
		c.mustRegister(t)
	}
	return c
}

// Register adds a TableSpec to the catalog. It is an error to register
// a table whose spec fails TableSpec.Validate, or whose name is
// already present -- the universe is closed once a name is taken.
func (c *Catalog) Register(t *TableSpec) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if c.tables == nil {
		c.tables = make(map[string]*TableSpec)
	}
	if _, exists := c.tables[t.Name]; exists {
		return fmt.Errorf("schema: table %q already registered", t.Name)
	}
	c.tables[t.Name] = t
	return nil
}

func (c *Catalog) mustRegister(t *TableSpec) {
	if err := c.Register(t); err != nil {
		panic(err)
	}
}

// Lookup returns the TableSpec for name.
func (c *Catalog) Lookup(name string) (*TableSpec, bool) {
	t, ok := c.tables[name]
	return t, ok
}

// Tables returns every registered table name, for introspection/CLI use.
func (c *Catalog) Tables() []string {
	names := make([]string, 0, len(c.tables))
	for n := range c.tables {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Describe returns the TableSpec for name, for introspection/CLI use.
func (c *Catalog) Describe(name string) (*TableSpec, bool) {
	return c.Lookup(name)
}

// cryptoScale is the canonical crypto fixed-point scale, S = 10^9:
// one scale for every crypto price and quantity column.
var cryptoScale = Scale{Increment: 1.0 / 1e9}

// cnPriceScale and cnQtyScale are the Chinese-equity lot-based scales: prices quoted in
// 0.01-yuan ticks per 100-share lot. Stored directly at
// that granularity -- increment 0.01 for price columns, 1 (whole lots)
// for quantity columns expressed in lots.
var cnPriceScale = Scale{Increment: 0.01}
var cnQtyScale = Scale{Increment: 1.0}

func lineageCols() []ColumnSpec {
	return []ColumnSpec{
		{Name: "file_id", Type: TypeInt64},
		{Name: "file_seq", Type: TypeInt64},
	}
}

func eventHeaderCols() []ColumnSpec {
	return []ColumnSpec{
		{Name: "venue", Type: TypeString},
		{Name: "venue_id", Type: TypeInt64},
		{Name: "symbol_id", Type: TypeInt64},
		{Name: "ts_event_us", Type: TypeTimestampUs},
		{Name: "trading_date", Type: TypeDate},
	}
}

func builtinTables() []*TableSpec {
	return []*TableSpec{
		cryptoTradesTable(),
		cryptoBookUpdatesTable(),
		cryptoQuotesTable(),
		cryptoDerivTickerTable(),
		cryptoLiquidationsTable(),
		cryptoOptionsChainTable(),
		cnL3OrderEventsTable(),
		cnL3TickEventsTable(),
		featureRowsTable(),
	}
}

func cryptoTradesTable() *TableSpec {
	cols := append(eventHeaderCols(),
		ColumnSpec{Name: "side", Type: TypeString},
		ColumnSpec{Name: "price", Type: TypeScaledInt64, Scale: cryptoScale},
		ColumnSpec{Name: "qty", Type: TypeScaledInt64, Scale: cryptoScale},
		ColumnSpec{Name: "trade_id", Type: TypeString, Nullable: true},
	)
	cols = append(cols, lineageCols()...)
	return &TableSpec{
		Name:          "crypto_trades",
		Columns:       cols,
		PartitionCols: []string{"venue", "trading_date"},
		TieBreakCols:  []string{"ts_event_us", "file_id", "file_seq"},
		ValidationRules: []ValidationRule{
			sideRule("side"),
			positiveRule("qty"),
		},
	}
}

func cryptoBookUpdatesTable() *TableSpec {
	cols := append(eventHeaderCols(),
		ColumnSpec{Name: "is_snapshot", Type: TypeBool},
		ColumnSpec{Name: "side", Type: TypeString},
		ColumnSpec{Name: "price", Type: TypeScaledInt64, Scale: cryptoScale},
		ColumnSpec{Name: "qty", Type: TypeScaledInt64, Scale: cryptoScale},
	)
	cols = append(cols, lineageCols()...)
	return &TableSpec{
		Name:          "crypto_book_updates",
		Columns:       cols,
		PartitionCols: []string{"venue", "trading_date"},
		TieBreakCols:  []string{"ts_event_us", "file_id", "file_seq"},
		ValidationRules: []ValidationRule{
			bookSideRule("side"),
			nonNegativeRule("qty"),
		},
	}
}

func cryptoQuotesTable() *TableSpec {
	cols := append(eventHeaderCols(),
		ColumnSpec{Name: "bid_price", Type: TypeScaledInt64, Scale: cryptoScale},
		ColumnSpec{Name: "bid_qty", Type: TypeScaledInt64, Scale: cryptoScale},
		ColumnSpec{Name: "ask_price", Type: TypeScaledInt64, Scale: cryptoScale},
		ColumnSpec{Name: "ask_qty", Type: TypeScaledInt64, Scale: cryptoScale},
	)
	cols = append(cols, lineageCols()...)
	return &TableSpec{
		Name:          "crypto_quotes",
		Columns:       cols,
		PartitionCols: []string{"venue", "trading_date"},
		TieBreakCols:  []string{"ts_event_us", "file_id", "file_seq"},
		ValidationRules: []ValidationRule{
			{
				Name: "bid_below_ask",
				Check: func(row RowView) string {
					bid, _ := row.Int64("bid_price")
					ask, _ := row.Int64("ask_price")
					if bid >= ask {
						return "bid_price must be strictly less than ask_price"
					}
					return ""
				},
			},
		},
	}
}

func cryptoDerivTickerTable() *TableSpec {
	cols := append(eventHeaderCols(),
		ColumnSpec{Name: "mark", Type: TypeScaledInt64, Scale: cryptoScale},
		ColumnSpec{Name: "index", Type: TypeScaledInt64, Scale: cryptoScale},
		ColumnSpec{Name: "funding_rate", Type: TypeScaledInt64, Scale: cryptoScale},
		ColumnSpec{Name: "next_funding_ts_us", Type: TypeTimestampUs},
		ColumnSpec{Name: "open_interest", Type: TypeScaledInt64, Scale: cryptoScale},
	)
	cols = append(cols, lineageCols()...)
	return &TableSpec{
		Name:          "crypto_deriv_ticker",
		Columns:       cols,
		PartitionCols: []string{"venue", "trading_date"},
		TieBreakCols:  []string{"ts_event_us", "file_id", "file_seq"},
	}
}

func cryptoLiquidationsTable() *TableSpec {
	cols := append(eventHeaderCols(),
		ColumnSpec{Name: "side", Type: TypeString},
		ColumnSpec{Name: "price", Type: TypeScaledInt64, Scale: cryptoScale},
		ColumnSpec{Name: "qty", Type: TypeScaledInt64, Scale: cryptoScale},
	)
	cols = append(cols, lineageCols()...)
	return &TableSpec{
		Name:          "crypto_liquidations",
		Columns:       cols,
		PartitionCols: []string{"venue", "trading_date"},
		TieBreakCols:  []string{"ts_event_us", "file_id", "file_seq"},
		ValidationRules: []ValidationRule{
			sideRule("side"),
			positiveRule("qty"),
		},
	}
}

func cryptoOptionsChainTable() *TableSpec {
	cols := append(eventHeaderCols(),
		ColumnSpec{Name: "underlying_symbol_id", Type: TypeInt64},
		ColumnSpec{Name: "strike_price", Type: TypeScaledInt64, Scale: cryptoScale},
		ColumnSpec{Name: "expiry_ts_us", Type: TypeTimestampUs},
		ColumnSpec{Name: "option_type", Type: TypeString},
		ColumnSpec{Name: "mark", Type: TypeScaledInt64, Scale: cryptoScale},
		ColumnSpec{Name: "index", Type: TypeScaledInt64, Scale: cryptoScale},
		ColumnSpec{Name: "open_interest", Type: TypeScaledInt64, Scale: cryptoScale},
	)
	cols = append(cols, lineageCols()...)
	return &TableSpec{
		Name:          "crypto_options_chain",
		Columns:       cols,
		PartitionCols: []string{"venue", "trading_date"},
		TieBreakCols:  []string{"ts_event_us", "file_id", "file_seq"},
		ValidationRules: []ValidationRule{
			{
				Name: "option_type_valid",
				Check: func(row RowView) string {
					v, _ := row.String("option_type")
					if v != "call" && v != "put" {
						return "option_type must be call or put"
					}
					return ""
				},
			},
		},
	}
}

func cnL3OrderEventsTable() *TableSpec {
	cols := append(eventHeaderCols(),
		ColumnSpec{Name: "appl_seq_num", Type: TypeInt64},
		ColumnSpec{Name: "channel_no", Type: TypeInt64},
		ColumnSpec{Name: "side", Type: TypeString},
		ColumnSpec{Name: "order_type", Type: TypeString},
		ColumnSpec{Name: "event_kind", Type: TypeString},
		ColumnSpec{Name: "price", Type: TypeScaledInt64, Scale: cnPriceScale},
		ColumnSpec{Name: "qty", Type: TypeScaledInt64, Scale: cnQtyScale},
	)
	cols = append(cols, lineageCols()...)
	return &TableSpec{
		Name:          "cn_l3_order_events",
		Columns:       cols,
		PartitionCols: []string{"venue", "trading_date"},
		TieBreakCols:  []string{"channel_no", "appl_seq_num"},
		ValidationRules: []ValidationRule{
			{
				Name: "event_kind_valid",
				Check: func(row RowView) string {
					v, _ := row.String("event_kind")
					if v != "ADD" && v != "CANCEL" {
						return "event_kind must be ADD or CANCEL"
					}
					return ""
				},
			},
		},
	}
}

func cnL3TickEventsTable() *TableSpec {
	cols := append(eventHeaderCols(),
		ColumnSpec{Name: "appl_seq_num", Type: TypeInt64},
		ColumnSpec{Name: "channel_no", Type: TypeInt64},
		ColumnSpec{Name: "bid_ref", Type: TypeInt64},
		ColumnSpec{Name: "ask_ref", Type: TypeInt64},
		ColumnSpec{Name: "exec_type", Type: TypeString},
		ColumnSpec{Name: "price", Type: TypeScaledInt64, Scale: cnPriceScale},
		ColumnSpec{Name: "qty", Type: TypeScaledInt64, Scale: cnQtyScale},
	)
	cols = append(cols, lineageCols()...)
	return &TableSpec{
		Name:          "cn_l3_tick_events",
		Columns:       cols,
		PartitionCols: []string{"venue", "trading_date"},
		TieBreakCols:  []string{"channel_no", "appl_seq_num"},
		ValidationRules: []ValidationRule{
			{
				Name: "exec_type_valid",
				Check: func(row RowView) string {
					v, _ := row.String("exec_type")
					if v != "FILL" && v != "CANCEL" {
						return "exec_type must be FILL or CANCEL"
					}
					return ""
				},
			},
		},
	}
}

// featureRowsTable is the table the replay kernel writes to when the
// caller asks for persisted output rather than an in-memory result.
func featureRowsTable() *TableSpec {
	return &TableSpec{
		Name: "feature_rows",
		Columns: []ColumnSpec{
			{Name: "venue", Type: TypeString},
			{Name: "symbol_id", Type: TypeInt64},
			{Name: "window_start_ts_us", Type: TypeTimestampUs},
			{Name: "window_end_ts_us", Type: TypeTimestampUs},
			{Name: "feature_name", Type: TypeString},
			{Name: "value", Type: TypeInt64, Nullable: true}, // bit-pattern of float64 value; decoded at the edge
			{Name: "book_reset", Type: TypeBool},
		},
		// unpartitioned: one replay run's output is small relative to
		// the event tables it was derived from.
		TieBreakCols: []string{"venue", "symbol_id", "window_start_ts_us", "feature_name"},
	}
}

func sideRule(col string) ValidationRule {
	return ValidationRule{
		Name: "side_valid",
		Check: func(row RowView) string {
			v, _ := row.String(col)
			if v != "buy" && v != "sell" && v != "unknown" {
				return fmt.Sprintf("%s must be buy, sell, or unknown", col)
			}
			return ""
		},
	}
}

func bookSideRule(col string) ValidationRule {
	return ValidationRule{
		Name: "book_side_valid",
		Check: func(row RowView) string {
			v, _ := row.String(col)
			if v != "bid" && v != "ask" {
				return fmt.Sprintf("%s must be bid or ask", col)
			}
			return ""
		},
	}
}

func positiveRule(col string) ValidationRule {
	return ValidationRule{
		Name: "positive_" + col,
		Check: func(row RowView) string {
			v, _ := row.Int64(col)
			if v <= 0 {
				return fmt.Sprintf("%s must be positive", col)
			}
			return ""
		},
	}
}

func nonNegativeRule(col string) ValidationRule {
	return ValidationRule{
		Name: "non_negative_" + col,
		Check: func(row RowView) string {
			v, _ := row.Int64(col)
			if v < 0 {
				return fmt.Sprintf("%s must be non-negative", col)
			}
			return ""
		},
	}
}
