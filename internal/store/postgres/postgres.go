package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"paleteria/backend/internal/domain"
	"paleteria/backend/internal/store"
	"paleteria/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the pool for the migrate command.
func (s *Store) DB() *sql.DB {
	return s.db
}

const productColumns = `
	p.sku, p.name, p.category, p.price_cents, p.tags, p.control_type, p.sellable, p.active,
	COALESCE((SELECT SUM(m.qty) FROM stock_moves m WHERE m.sku = p.sku), 0)
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var p domain.Product
	var tags []byte
	if err := row.Scan(&p.SKU, &p.Name, &p.Category, &p.PriceCents, &tags, &p.ControlType, &p.Sellable, &p.Active, &p.Stock); err != nil {
		return domain.Product{}, err
	}
	p.Tags = decodeTags(tags)
	return p, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products p
		WHERE p.active = true
		ORDER BY p.category, p.name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 32)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.SKU == "" || product.Name == "" || product.PriceCents < 0 {
		return nil, store.ErrInvalidInput
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (sku, name, category, price_cents, tags, control_type, sellable, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5::jsonb,$6,$7,$8,now(),now())
	`, product.SKU, product.Name, product.Category, product.PriceCents, encodeTags(product.Tags), product.ControlType, product.Sellable, product.Active)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	return s.GetProductBySKU(ctx, product.SKU)
}

func (s *Store) GetProductBySKU(ctx context.Context, sku string) (*domain.Product, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products p
		WHERE p.sku = $1
	`, sku)
	p, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.SKU == "" || product.Name == "" || product.PriceCents < 0 {
		return nil, store.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET name = $2, category = $3, price_cents = $4, tags = $5::jsonb,
			control_type = $6, sellable = $7, active = $8, updated_at = now()
		WHERE sku = $1
	`, product.SKU, product.Name, product.Category, product.PriceCents, encodeTags(product.Tags), product.ControlType, product.Sellable, product.Active)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetProductBySKU(ctx, product.SKU)
}

// GetProductsBySKUs includes inactive and non-sellable products so callers
// can tell "unknown" apart from "not sellable".
func (s *Store) GetProductsBySKUs(ctx context.Context, skus []string) (map[string]domain.Product, error) {
	skus = uniqueStrings(skus)
	result := make(map[string]domain.Product, len(skus))
	if len(skus) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products p
		WHERE p.sku = ANY($1)
	`, skus)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		result[p.SKU] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.ID == "" || sale.Code == "" {
		return nil, store.ErrInvalidInput
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	if sale.Currency == "" {
		sale.Currency = domain.DefaultCurrency
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sales (id, code, user_code, currency, total_gross, total_discount, total_net, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, sale.ID, sale.Code, sale.UserCode, sale.Currency, sale.TotalGross, sale.TotalDiscount, sale.TotalNet, sale.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	for i := range sale.Lines {
		line := &sale.Lines[i]
		if line.ID == "" {
			line.ID = xid.New("line")
		}
		line.SaleID = sale.ID
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sale_lines (id, sale_id, position, sku, name, qty, unit_price, is_gift, tags)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9::jsonb)
		`, line.ID, sale.ID, i, line.SKU, line.Name, line.Qty, line.UnitPrice, line.IsGift, encodeTags(line.Tags)); err != nil {
			return nil, err
		}
	}

	for i := range sale.Promos {
		promo := &sale.Promos[i]
		if promo.ID == "" {
			promo.ID = xid.New("salepromo")
		}
		if promo.Meta == "" {
			promo.Meta = "{}"
		}
		promo.SaleID = sale.ID
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sale_promos (id, sale_id, position, rule_id, name, amount, meta)
			VALUES ($1,$2,$3,$4,$5,$6,$7::jsonb)
		`, promo.ID, sale.ID, i, promo.RuleID, promo.Name, promo.Amount, promo.Meta); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &sale, nil
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	var sale domain.Sale
	err := s.db.QueryRowContext(ctx, `
		SELECT id, code, user_code, currency, total_gross, total_discount, total_net, created_at
		FROM sales
		WHERE id = $1
	`, id).Scan(&sale.ID, &sale.Code, &sale.UserCode, &sale.Currency, &sale.TotalGross, &sale.TotalDiscount, &sale.TotalNet, &sale.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	sale.CreatedAt = sale.CreatedAt.UTC()

	lineRows, err := s.db.QueryContext(ctx, `
		SELECT id, sale_id, sku, name, qty, unit_price, is_gift, tags
		FROM sale_lines
		WHERE sale_id = $1
		ORDER BY position ASC
	`, id)
	if err != nil {
		return nil, err
	}
	defer lineRows.Close()

	sale.Lines = make([]domain.SaleLine, 0, 8)
	for lineRows.Next() {
		var line domain.SaleLine
		var tags []byte
		if err := lineRows.Scan(&line.ID, &line.SaleID, &line.SKU, &line.Name, &line.Qty, &line.UnitPrice, &line.IsGift, &tags); err != nil {
			return nil, err
		}
		line.Tags = decodeTags(tags)
		sale.Lines = append(sale.Lines, line)
	}
	if err := lineRows.Err(); err != nil {
		return nil, err
	}

	promoRows, err := s.db.QueryContext(ctx, `
		SELECT id, sale_id, rule_id, name, amount, meta::text
		FROM sale_promos
		WHERE sale_id = $1
		ORDER BY position ASC
	`, id)
	if err != nil {
		return nil, err
	}
	defer promoRows.Close()

	sale.Promos = make([]domain.SalePromo, 0, 4)
	for promoRows.Next() {
		var promo domain.SalePromo
		if err := promoRows.Scan(&promo.ID, &promo.SaleID, &promo.RuleID, &promo.Name, &promo.Amount, &promo.Meta); err != nil {
			return nil, err
		}
		sale.Promos = append(sale.Promos, promo)
	}
	if err := promoRows.Err(); err != nil {
		return nil, err
	}

	return &sale, nil
}

func (s *Store) ListSales(ctx context.Context, limit int) ([]domain.Sale, error) {
	if limit < 1 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, code, user_code, currency, total_gross, total_discount, total_net, created_at
		FROM sales
		ORDER BY created_at DESC, code DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, limit)
	for rows.Next() {
		var sale domain.Sale
		if err := rows.Scan(&sale.ID, &sale.Code, &sale.UserCode, &sale.Currency, &sale.TotalGross, &sale.TotalDiscount, &sale.TotalNet, &sale.CreatedAt); err != nil {
			return nil, err
		}
		sale.CreatedAt = sale.CreatedAt.UTC()
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sales, nil
}

func (s *Store) CreateStockMoves(ctx context.Context, moves []domain.StockMove) error {
	if len(moves) == 0 {
		return nil
	}
	if err := validateMoves(moves); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertMoves(ctx, tx, moves); err != nil {
		return err
	}
	return tx.Commit()
}

const moveColumns = `id, sku, kind, qty, user_code, COALESCE(sale_id, ''), COALESCE(receipt_id, ''), COALESCE(lot_id, ''), note, created_at`

func (s *Store) ListStockMovesBySale(ctx context.Context, saleID string) ([]domain.StockMove, error) {
	return s.queryMoves(ctx, `
		SELECT `+moveColumns+`
		FROM stock_moves
		WHERE sale_id = $1
		ORDER BY created_at ASC, id ASC
	`, saleID)
}

func (s *Store) queryMoves(ctx context.Context, query string, args ...any) ([]domain.StockMove, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	moves := make([]domain.StockMove, 0, 8)
	for rows.Next() {
		var move domain.StockMove
		if err := rows.Scan(&move.ID, &move.SKU, &move.Kind, &move.Qty, &move.UserCode, &move.SaleID,
			&move.ReceiptID, &move.LotID, &move.Note, &move.CreatedAt); err != nil {
			return nil, err
		}
		move.CreatedAt = move.CreatedAt.UTC()
		moves = append(moves, move)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return moves, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertMoves(ctx context.Context, db execer, moves []domain.StockMove) error {
	now := time.Now().UTC()
	for _, move := range moves {
		if move.ID == "" {
			move.ID = xid.New("move")
		}
		if move.CreatedAt.IsZero() {
			move.CreatedAt = now
		}
		if _, err := db.ExecContext(ctx, `
			INSERT INTO stock_moves (id, sku, kind, qty, user_code, sale_id, receipt_id, lot_id, note, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		`, move.ID, move.SKU, move.Kind, move.Qty, move.UserCode, nullIfEmpty(move.SaleID),
			nullIfEmpty(move.ReceiptID), nullIfEmpty(move.LotID), move.Note, move.CreatedAt); err != nil {
			return err
		}
	}
	return nil
}

func validateMoves(moves []domain.StockMove) error {
	for _, move := range moves {
		if move.SKU == "" || move.Kind == "" {
			return store.ErrInvalidInput
		}
	}
	return nil
}

func (s *Store) GetDailyReport(ctx context.Context, from time.Time, to time.Time) (domain.DailyReport, error) {
	report := domain.DailyReport{ByPromo: make([]domain.DailyReportPromo, 0, 4)}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(total_gross), 0), COALESCE(SUM(total_discount), 0), COALESCE(SUM(total_net), 0)
		FROM sales
		WHERE created_at >= $1 AND created_at < $2
	`, from, to).Scan(&report.Sales, &report.GrossCents, &report.DiscountCents, &report.NetCents)
	if err != nil {
		return domain.DailyReport{}, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT p.rule_id, MAX(p.name), COUNT(*), COALESCE(SUM(p.amount), 0),
			COALESCE(SUM(CASE WHEN jsonb_typeof(p.meta->'giftQty') = 'number' THEN (p.meta->>'giftQty')::numeric::bigint ELSE 0 END), 0)
		FROM sale_promos p
		JOIN sales s ON s.id = p.sale_id
		WHERE s.created_at >= $1 AND s.created_at < $2
		GROUP BY p.rule_id
		ORDER BY p.rule_id ASC
	`, from, to)
	if err != nil {
		return domain.DailyReport{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var entry domain.DailyReportPromo
		if err := rows.Scan(&entry.RuleID, &entry.Name, &entry.Times, &entry.AmountCents, &entry.GiftUnitsQty); err != nil {
			return domain.DailyReport{}, err
		}
		report.ByPromo = append(report.ByPromo, entry)
	}
	if err := rows.Err(); err != nil {
		return domain.DailyReport{}, err
	}
	return report, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	return insertAudit(ctx, s.db, entry)
}

func insertAudit(ctx context.Context, db execer, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO audit_logs (
			id, actor_username, actor_role, module, action, entity_id, before_json, after_json, comment, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Module, entry.Action, entry.EntityID,
		nullIfEmpty(entry.Before), nullIfEmpty(entry.After), nullIfEmpty(entry.Comment), entry.CreatedAt)
	return err
}

const auditColumns = `id, actor_username, actor_role, module, action, entity_id,
	COALESCE(before_json, ''), COALESCE(after_json, ''), COALESCE(comment, ''), created_at`

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}
	return s.queryAudit(ctx, `
		SELECT `+auditColumns+`
		FROM audit_logs
		WHERE created_at >= $1
			AND created_at < $2
		ORDER BY created_at DESC
		LIMIT $3
	`, from, to, limit)
}

func (s *Store) queryAudit(ctx context.Context, query string, args ...any) ([]domain.AuditLog, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, 32)
	for rows.Next() {
		entry, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func scanAudit(row rowScanner) (domain.AuditLog, error) {
	var entry domain.AuditLog
	if err := row.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Module, &entry.Action, &entry.EntityID,
		&entry.Before, &entry.After, &entry.Comment, &entry.CreatedAt); err != nil {
		return domain.AuditLog{}, err
	}
	entry.CreatedAt = entry.CreatedAt.UTC()
	return entry, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, true, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func encodeTags(tags []string) string {
	if len(tags) == 0 {
		return "[]"
	}
	raw, err := json.Marshal(tags)
	if err != nil {
		return "[]"
	}
	return string(raw)
}

func decodeTags(raw []byte) []string {
	tags := []string{}
	if len(raw) == 0 {
		return tags
	}
	if err := json.Unmarshal(raw, &tags); err != nil {
		return []string{}
	}
	return tags
}

func uniqueStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}

	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		set[v] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
