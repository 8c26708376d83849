package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("record not found")

// Order is one row of the order history.
type Order struct {
	ClientID  string
	VenueID   string
	Venue     string
	Symbol    string
	Side      string
	Type      string
	Price     float64
	Qty       float64
	FilledQty float64
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Fill is one execution against an order.
type Fill struct {
	ID        int64
	ClientID  string
	Symbol    string
	Side      string
	Price     float64
	Qty       float64
	Fee       float64
	IsMaker   bool
	CreatedAt time.Time
}

// Store runs the order and fill queries.
type Store struct {
	db *sql.DB
}

// Store returns the query layer over this database.
func (d *Database) Store() *Store {
	return &Store{db: d.DB}
}

// InsertOrder records a newly submitted order.
func (s *Store) InsertOrder(ctx context.Context, o Order) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (client_id, venue_id, venue, symbol, side, type, price, qty, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, o.ClientID, o.VenueID, o.Venue, o.Symbol, o.Side, o.Type, o.Price, o.Qty, o.Status)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// UpdateOrderStatus records a status transition reported by the venue.
func (s *Store) UpdateOrderStatus(ctx context.Context, clientID, venueID, status string, filledQty float64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET venue_id = COALESCE(NULLIF(?, ''), venue_id),
		    status = ?,
		    filled_qty = ?,
		    updated_at = CURRENT_TIMESTAMP
		WHERE client_id = ?
	`, venueID, status, filledQty, clientID)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertFill records one execution.
func (s *Store) InsertFill(ctx context.Context, f Fill) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fills (client_id, symbol, side, price, qty, fee, is_maker)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, f.ClientID, f.Symbol, f.Side, f.Price, f.Qty, f.Fee, f.IsMaker)
	if err != nil {
		return fmt.Errorf("insert fill: %w", err)
	}
	return nil
}

// GetOrder fetches one order by client id.
func (s *Store) GetOrder(ctx context.Context, clientID string) (Order, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT client_id, COALESCE(venue_id, ''), venue, symbol, side, type,
		       price, qty, filled_qty, status, created_at, updated_at
		FROM orders WHERE client_id = ?
	`, clientID)
	var o Order
	err := row.Scan(&o.ClientID, &o.VenueID, &o.Venue, &o.Symbol, &o.Side, &o.Type,
		&o.Price, &o.Qty, &o.FilledQty, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

// RecentOrders returns the newest orders, capped at limit.
func (s *Store) RecentOrders(ctx context.Context, limit int) ([]Order, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT client_id, COALESCE(venue_id, ''), venue, symbol, side, type,
		       price, qty, filled_qty, status, created_at, updated_at
		FROM orders ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.ClientID, &o.VenueID, &o.Venue, &o.Symbol, &o.Side, &o.Type,
			&o.Price, &o.Qty, &o.FilledQty, &o.Status, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// FillsForOrder returns every execution recorded against one order.
func (s *Store) FillsForOrder(ctx context.Context, clientID string) ([]Fill, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, client_id, symbol, side, price, qty, fee, is_maker, created_at
		FROM fills WHERE client_id = ? ORDER BY id
	`, clientID)
	if err != nil {
		return nil, fmt.Errorf("query fills: %w", err)
	}
	defer rows.Close()

	var out []Fill
	for rows.Next() {
		var f Fill
		if err := rows.Scan(&f.ID, &f.ClientID, &f.Symbol, &f.Side, &f.Price, &f.Qty, &f.Fee, &f.IsMaker, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan fill: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
