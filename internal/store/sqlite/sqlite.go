// Package sqlite implements the position store on SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"trailbot/internal/store"
	"trailbot/internal/types"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Store implements store.PositionStore using SQLite.
type Store struct {
	db *sql.DB
}

// New opens (creating if needed) a SQLite position store.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS positions (
			id TEXT PRIMARY KEY,
			market TEXT NOT NULL,
			status TEXT NOT NULL,
			volume TEXT NOT NULL,
			remaining_volume TEXT NOT NULL,
			open_rate TEXT NOT NULL,
			open_cost TEXT NOT NULL DEFAULT '0',
			open_commission TEXT NOT NULL DEFAULT '0',
			open_cost_proceeds TEXT NOT NULL DEFAULT '0',
			close_rate TEXT,
			close_cost TEXT NOT NULL DEFAULT '0',
			close_commission TEXT NOT NULL DEFAULT '0',
			close_cost_proceeds TEXT NOT NULL DEFAULT '0',
			current_price TEXT NOT NULL DEFAULT '0',
			price_at DATETIME,
			stop_loss TEXT,
			stop_loss_percent TEXT NOT NULL DEFAULT '0',
			stop_profit TEXT,
			stop_profit_percent TEXT NOT NULL DEFAULT '0',
			expected_net TEXT NOT NULL DEFAULT '0',
			expected_net_percent TEXT NOT NULL DEFAULT '0',
			net TEXT NOT NULL DEFAULT '0',
			net_percent TEXT NOT NULL DEFAULT '0',
			open_order_id TEXT NOT NULL,
			close_order_id TEXT NOT NULL DEFAULT '',
			paid_commission TEXT NOT NULL DEFAULT '0',
			closure_reason TEXT NOT NULL DEFAULT '',
			hodl INTEGER NOT NULL DEFAULT 0,
			open_at DATETIME NOT NULL,
			fully_open_at DATETIME,
			closed_at DATETIME,
			fully_closed_at DATETIME,
			last_update_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_status ON positions(status)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_market ON positions(market)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_open_order_id ON positions(open_order_id)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("execute migration: %w", err)
		}
	}

	return nil
}

const positionColumns = `id, market, status, volume, remaining_volume,
	open_rate, open_cost, open_commission, open_cost_proceeds,
	close_rate, close_cost, close_commission, close_cost_proceeds,
	current_price, price_at,
	stop_loss, stop_loss_percent, stop_profit, stop_profit_percent,
	expected_net, expected_net_percent, net, net_percent,
	open_order_id, close_order_id, paid_commission, closure_reason, hodl,
	open_at, fully_open_at, closed_at, fully_closed_at, last_update_at`

// Insert stores a new position record.
func (s *Store) Insert(ctx context.Context, p *types.Position) error {
	query := `INSERT INTO positions (` + positionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		p.ID,
		p.Market,
		string(p.Status),
		p.Volume.String(),
		p.RemainingVolume.String(),
		p.OpenRate.String(),
		p.OpenCost.String(),
		p.OpenCommission.String(),
		p.OpenCostProceeds.String(),
		decimalPtrToNull(p.CloseRate),
		p.CloseCost.String(),
		p.CloseCommission.String(),
		p.CloseCostProceeds.String(),
		p.CurrentPrice.String(),
		p.PriceAt,
		decimalPtrToNull(p.StopLoss),
		p.StopLossPercent.String(),
		decimalPtrToNull(p.StopProfit),
		p.StopProfitPercent.String(),
		p.ExpectedNet.String(),
		p.ExpectedNetPercent.String(),
		p.Net.String(),
		p.NetPercent.String(),
		p.OpenOrderID,
		p.CloseOrderID,
		p.PaidCommission.String(),
		p.ClosureReason,
		boolToInt(p.Hodl),
		p.OpenAt,
		timePtrToNull(p.FullyOpenAt),
		timePtrToNull(p.ClosedAt),
		timePtrToNull(p.FullyClosedAt),
		p.LastUpdateAt,
	)
	if err != nil {
		return fmt.Errorf("insert position: %w", err)
	}

	return nil
}

// Find returns all positions matching the filter.
func (s *Store) Find(ctx context.Context, f store.Filter) ([]*types.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions`

	var conds []string
	var args []any

	if len(f.Statuses) > 0 {
		placeholders := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		conds = append(conds, "status IN ("+strings.Join(placeholders, ", ")+")")
	}
	if f.Market != "" {
		conds = append(conds, "market = ?")
		args = append(args, f.Market)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY open_at"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var positions []*types.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}

	return positions, rows.Err()
}

// FindOne returns the position with the given id.
func (s *Store) FindOne(ctx context.Context, id string) (*types.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE id = ?`
	return s.findRow(ctx, query, id)
}

// FindByOpenOrderID returns the position created for an opening order.
func (s *Store) FindByOpenOrderID(ctx context.Context, orderID string) (*types.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE open_order_id = ?`
	return s.findRow(ctx, query, orderID)
}

func (s *Store) findRow(ctx context.Context, query string, arg any) (*types.Position, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("query position: %w", err)
	}
	defer func() { _ = rows.Close() }()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("query position: %w", err)
		}
		return nil, types.ErrPositionNotFound
	}

	return scanPosition(rows)
}

// updatableColumns is the whitelist of fields the engines may set.
var updatableColumns = map[string]bool{
	store.FieldStatus:             true,
	store.FieldVolume:             true,
	store.FieldRemainingVolume:    true,
	store.FieldOpenCost:           true,
	store.FieldOpenCommission:     true,
	store.FieldOpenCostProceeds:   true,
	store.FieldCloseRate:          true,
	store.FieldCloseCost:          true,
	store.FieldCloseCommission:    true,
	store.FieldCloseCostProceeds:  true,
	store.FieldCurrentPrice:       true,
	store.FieldPriceAt:            true,
	store.FieldStopLoss:           true,
	store.FieldStopLossPercent:    true,
	store.FieldStopProfit:         true,
	store.FieldStopProfitPercent:  true,
	store.FieldExpectedNet:        true,
	store.FieldExpectedNetPercent: true,
	store.FieldNet:                true,
	store.FieldNetPercent:         true,
	store.FieldCloseOrderID:       true,
	store.FieldPaidCommission:     true,
	store.FieldClosureReason:      true,
	store.FieldHodl:               true,
	store.FieldFullyOpenAt:        true,
	store.FieldClosedAt:           true,
	store.FieldFullyClosedAt:      true,
	store.FieldLastUpdateAt:       true,
}

// UpdateFields atomically sets the given fields on one position with a
// single UPDATE statement. Unknown columns are rejected.
func (s *Store) UpdateFields(ctx context.Context, id string, fields store.Fields) error {
	if len(fields) == 0 {
		return nil
	}

	// Deterministic column order keeps the generated SQL stable.
	cols := make([]string, 0, len(fields))
	for col := range fields {
		if !updatableColumns[col] {
			return fmt.Errorf("update position: column %q not updatable", col)
		}
		cols = append(cols, col)
	}
	sort.Strings(cols)

	sets := make([]string, len(cols))
	args := make([]any, 0, len(cols)+1)
	for i, col := range cols {
		sets[i] = col + " = ?"
		v, err := toSQL(fields[col])
		if err != nil {
			return fmt.Errorf("update position column %q: %w", col, err)
		}
		args = append(args, v)
	}
	args = append(args, id)

	query := "UPDATE positions SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update position: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update position: %w", err)
	}
	if n == 0 {
		return types.ErrPositionNotFound
	}

	return nil
}

// Delete removes a position record.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM positions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete position: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete position: %w", err)
	}
	if n == 0 {
		return types.ErrPositionNotFound
	}

	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// toSQL converts a field value to its SQLite representation.
func toSQL(v any) (any, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case decimal.Decimal:
		return val.String(), nil
	case *decimal.Decimal:
		return decimalPtrToNull(val), nil
	case types.Status:
		return string(val), nil
	case types.ClosureReason:
		return string(val), nil
	case string:
		return val, nil
	case bool:
		return boolToInt(val), nil
	case time.Time:
		return val, nil
	case *time.Time:
		return timePtrToNull(val), nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

func scanPosition(rows *sql.Rows) (*types.Position, error) {
	var p types.Position
	var status, volume, remaining string
	var openRate, openCost, openCommission, openProceeds string
	var closeRate sql.NullString
	var closeCost, closeCommission, closeProceeds string
	var currentPrice string
	var priceAt sql.NullTime
	var stopLoss sql.NullString
	var stopLossPct string
	var stopProfit sql.NullString
	var stopProfitPct string
	var expNet, expNetPct, net, netPct, paidCommission string
	var hodl int
	var fullyOpenAt, closedAt, fullyClosedAt sql.NullTime

	err := rows.Scan(
		&p.ID, &p.Market, &status, &volume, &remaining,
		&openRate, &openCost, &openCommission, &openProceeds,
		&closeRate, &closeCost, &closeCommission, &closeProceeds,
		&currentPrice, &priceAt,
		&stopLoss, &stopLossPct, &stopProfit, &stopProfitPct,
		&expNet, &expNetPct, &net, &netPct,
		&p.OpenOrderID, &p.CloseOrderID, &paidCommission, &p.ClosureReason, &hodl,
		&p.OpenAt, &fullyOpenAt, &closedAt, &fullyClosedAt, &p.LastUpdateAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan position: %w", err)
	}

	// A stored value that no longer parses as a decimal must surface,
	// never read back as zero.
	var parseErr error
	parse := func(col, s string) decimal.Decimal {
		d, err := decimal.NewFromString(s)
		if err != nil && parseErr == nil {
			parseErr = fmt.Errorf("%w: position %s column %s holds %q", types.ErrDataIntegrity, p.ID, col, s)
		}
		return d
	}
	parseNull := func(col string, s sql.NullString) *decimal.Decimal {
		if !s.Valid {
			return nil
		}
		d := parse(col, s.String)
		return &d
	}

	p.Status = types.Status(status)
	p.Volume = parse("volume", volume)
	p.RemainingVolume = parse("remaining_volume", remaining)
	p.OpenRate = parse("open_rate", openRate)
	p.OpenCost = parse("open_cost", openCost)
	p.OpenCommission = parse("open_commission", openCommission)
	p.OpenCostProceeds = parse("open_cost_proceeds", openProceeds)
	p.CloseCost = parse("close_cost", closeCost)
	p.CloseCommission = parse("close_commission", closeCommission)
	p.CloseCostProceeds = parse("close_cost_proceeds", closeProceeds)
	p.CurrentPrice = parse("current_price", currentPrice)
	p.StopLossPercent = parse("stop_loss_percent", stopLossPct)
	p.StopProfitPercent = parse("stop_profit_percent", stopProfitPct)
	p.ExpectedNet = parse("expected_net", expNet)
	p.ExpectedNetPercent = parse("expected_net_percent", expNetPct)
	p.Net = parse("net", net)
	p.NetPercent = parse("net_percent", netPct)
	p.PaidCommission = parse("paid_commission", paidCommission)
	p.Hodl = hodl == 1

	if priceAt.Valid {
		p.PriceAt = priceAt.Time
	}
	p.CloseRate = parseNull("close_rate", closeRate)
	p.StopLoss = parseNull("stop_loss", stopLoss)
	p.StopProfit = parseNull("stop_profit", stopProfit)
	p.FullyOpenAt = nullToTimePtr(fullyOpenAt)
	p.ClosedAt = nullToTimePtr(closedAt)
	p.FullyClosedAt = nullToTimePtr(fullyClosedAt)

	if parseErr != nil {
		return nil, parseErr
	}

	return &p, nil
}

func decimalPtrToNull(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func timePtrToNull(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullToTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	tt := t.Time
	return &tt
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
