package memory

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"paleteria/backend/internal/domain"
	"paleteria/backend/internal/store"
	"paleteria/backend/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	products        map[string]domain.Product
	sales           []domain.Sale
	salesByID       map[string]int
	stockMoves      []domain.StockMove
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
	receipts        map[string]domain.Receipt
}

// seedUsers builds the dev/demo accounts. Passwords come from
// POS_SEED_SUPERSU_PASSWORD, POS_SEED_ADMIN_PASSWORD and
// POS_SEED_CASHIER_PASSWORD; unset variables fall back to dev defaults.
func seedUsers() map[string]domain.UserAccount {
	supersuPwd := envOr("POS_SEED_SUPERSU_PASSWORD", "supersu123")
	adminPwd := envOr("POS_SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("POS_SEED_CASHIER_PASSWORD", "cajero123")
	if os.Getenv("POS_SEED_ADMIN_PASSWORD") == "" || os.Getenv("POS_SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set POS_SEED_*_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"supersu", supersuPwd, domain.RoleSuperSU},
		{"admin", adminPwd, domain.RoleAdmin},
		{"cajero", cashierPwd, domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// SeedProducts is the demo paleteria catalog.
func SeedProducts() []domain.Product {
	return []domain.Product{
		{SKU: "PALETA_FRESA", Name: "Paleta de fresa", Category: "paletas", PriceCents: 2500, Tags: []string{"paleta", "agua"}, ControlType: domain.ControlUnit, Sellable: true, Active: true},
		{SKU: "PALETA_MANGO", Name: "Paleta de mango", Category: "paletas", PriceCents: 2500, Tags: []string{"paleta", "agua"}, ControlType: domain.ControlUnit, Sellable: true, Active: true},
		{SKU: "PALETA_LIMON", Name: "Paleta de limon", Category: "paletas", PriceCents: 2500, Tags: []string{"paleta", "agua"}, ControlType: domain.ControlUnit, Sellable: true, Active: true},
		{SKU: "PALETA_CHOCO", Name: "Paleta de chocolate", Category: "paletas", PriceCents: 2800, Tags: []string{"paleta", "leche"}, ControlType: domain.ControlUnit, Sellable: true, Active: true},
		{SKU: "CONO", Name: "Cono sencillo", Category: "conos", PriceCents: 1500, Tags: []string{"cono"}, ControlType: domain.ControlUnit, Sellable: true, Active: true},
		{SKU: "HELADO_1L", Name: "Helado 1 litro", Category: "helados", PriceCents: 9000, Tags: []string{"helado"}, ControlType: domain.ControlDirectSale, Sellable: true, Active: true},
		{SKU: "AGUA_FRESCA", Name: "Agua fresca 500ml", Category: "bebidas", PriceCents: 3000, Tags: []string{"bebida"}, ControlType: domain.ControlDirectSale, Sellable: true, Active: true},
		{SKU: "BOLA_HELADO", Name: "Bola de helado", Category: "helados", PriceCents: 2000, Tags: []string{"helado", "bola"}, ControlType: domain.ControlTechIceCream, Sellable: true, Active: true},
		{SKU: "TOP_CHISPAS", Name: "Topping chispas", Category: "toppings", PriceCents: 500, Tags: []string{"topping"}, ControlType: domain.ControlTechTopping, Sellable: true, Active: true},
		{SKU: "PALETA_FRESA_CAJA", Name: "Caja paleta de fresa x24", Category: "cajas", PriceCents: 0, Tags: []string{"caja"}, ControlType: domain.ControlUnit, Sellable: false, Active: true},
		{SKU: "CONO_PAQ", Name: "Paquete de conos x12", Category: "cajas", PriceCents: 0, Tags: []string{"caja"}, ControlType: domain.ControlUnit, Sellable: false, Active: true},
		{SKU: "BASE_VAINILLA_5L", Name: "Base vainilla 5L", Category: "insumos", PriceCents: 0, Tags: []string{"insumo"}, ControlType: domain.ControlTechIceCream, Sellable: false, Active: true},
	}
}

func New() *Store {
	return &Store{
		products:        make(map[string]domain.Product),
		salesByID:       make(map[string]int),
		stockMoves:      make([]domain.StockMove, 0, 64),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: make(map[string]domain.UserAccount),
		receipts:        make(map[string]domain.Receipt),
	}
}

// NewSeeded returns a store with the demo catalog, opening stock for unit
// and direct-sale products, and the demo accounts.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()
	for _, p := range SeedProducts() {
		s.products[p.SKU] = p
		if p.ControlType == domain.ControlUnit || p.ControlType == domain.ControlDirectSale {
			s.stockMoves = append(s.stockMoves, domain.StockMove{
				ID:        xid.New("move"),
				SKU:       p.SKU,
				Kind:      domain.StockMoveKindReceipt,
				Qty:       50,
				UserCode:  "system",
				Note:      "opening stock",
				CreatedAt: now,
			})
		}
	}
	s.usersByUsername = seedUsers()
	return s
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stock := s.stockLevels()
	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if !p.Active {
			continue
		}
		p = cloneProduct(p)
		p.Stock = stock[p.SKU]
		products = append(products, p)
	}

	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Category == b.Category {
			return strings.Compare(a.Name, b.Name)
		}
		return strings.Compare(a.Category, b.Category)
	})

	return products, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.SKU == "" || product.Name == "" || product.PriceCents < 0 {
		return nil, store.ErrInvalidInput
	}
	if _, exists := s.products[product.SKU]; exists {
		return nil, store.ErrConflict
	}

	product = cloneProduct(product)
	s.products[product.SKU] = product
	created := cloneProduct(product)
	return &created, nil
}

func (s *Store) GetProductBySKU(_ context.Context, sku string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[sku]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyProduct := cloneProduct(product)
	copyProduct.Stock = s.stockLevels()[sku]
	return &copyProduct, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.SKU == "" || product.Name == "" || product.PriceCents < 0 {
		return nil, store.ErrInvalidInput
	}
	if _, exists := s.products[product.SKU]; !exists {
		return nil, store.ErrNotFound
	}

	product = cloneProduct(product)
	s.products[product.SKU] = product
	updated := cloneProduct(product)
	return &updated, nil
}

func (s *Store) GetProductsBySKUs(_ context.Context, skus []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stock := s.stockLevels()
	result := make(map[string]domain.Product, len(skus))
	for _, sku := range skus {
		if product, ok := s.products[sku]; ok {
			product = cloneProduct(product)
			product.Stock = stock[sku]
			result[sku] = product
		}
	}
	return result, nil
}

func (s *Store) CreateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sale.ID == "" || sale.Code == "" {
		return nil, store.ErrInvalidInput
	}
	if _, exists := s.salesByID[sale.ID]; exists {
		return nil, store.ErrConflict
	}
	for _, existing := range s.sales {
		if existing.Code == sale.Code {
			return nil, store.ErrConflict
		}
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}

	sale = cloneSale(sale)
	for i := range sale.Lines {
		if sale.Lines[i].ID == "" {
			sale.Lines[i].ID = xid.New("line")
		}
		sale.Lines[i].SaleID = sale.ID
	}
	for i := range sale.Promos {
		if sale.Promos[i].ID == "" {
			sale.Promos[i].ID = xid.New("salepromo")
		}
		if sale.Promos[i].Meta == "" {
			sale.Promos[i].Meta = "{}"
		}
		sale.Promos[i].SaleID = sale.ID
	}

	s.salesByID[sale.ID] = len(s.sales)
	s.sales = append(s.sales, sale)
	created := cloneSale(sale)
	return &created, nil
}

func (s *Store) GetSale(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.salesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	sale := cloneSale(s.sales[idx])
	return &sale, nil
}

func (s *Store) ListSales(_ context.Context, limit int) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Sale, 0, min(len(s.sales), max(limit, 0)))
	for i := len(s.sales) - 1; i >= 0; i-- {
		if limit > 0 && len(result) >= limit {
			break
		}
		header := s.sales[i]
		header.Lines = nil
		header.Promos = nil
		result = append(result, header)
	}
	return result, nil
}

func (s *Store) CreateStockMoves(_ context.Context, moves []domain.StockMove) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, move := range moves {
		if move.SKU == "" || move.Kind == "" {
			return store.ErrInvalidInput
		}
	}
	now := time.Now().UTC()
	for _, move := range moves {
		if move.ID == "" {
			move.ID = xid.New("move")
		}
		if move.CreatedAt.IsZero() {
			move.CreatedAt = now
		}
		s.stockMoves = append(s.stockMoves, move)
	}
	return nil
}

func (s *Store) ListStockMovesBySale(_ context.Context, saleID string) ([]domain.StockMove, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.StockMove, 0, 8)
	for _, move := range s.stockMoves {
		if move.SaleID == saleID {
			result = append(result, move)
		}
	}
	return result, nil
}

func (s *Store) GetDailyReport(_ context.Context, from time.Time, to time.Time) (domain.DailyReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	report := domain.DailyReport{ByPromo: make([]domain.DailyReportPromo, 0, 4)}
	byPromo := map[string]*domain.DailyReportPromo{}

	for _, sale := range s.sales {
		if sale.CreatedAt.Before(from) || !sale.CreatedAt.Before(to) {
			continue
		}

		report.Sales++
		report.GrossCents += sale.TotalGross
		report.DiscountCents += sale.TotalDiscount
		report.NetCents += sale.TotalNet

		for _, p := range sale.Promos {
			entry := byPromo[p.RuleID]
			if entry == nil {
				entry = &domain.DailyReportPromo{RuleID: p.RuleID, Name: p.Name}
				byPromo[p.RuleID] = entry
			}
			entry.Times++
			entry.AmountCents += p.Amount
			entry.GiftUnitsQty += giftQty(p.Meta)
		}
	}

	for _, entry := range byPromo {
		report.ByPromo = append(report.ByPromo, *entry)
	}
	slices.SortFunc(report.ByPromo, func(a, b domain.DailyReportPromo) int {
		return strings.Compare(a.RuleID, b.RuleID)
	})

	return report, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) GetAuditLog(_ context.Context, id string) (*domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, entry := range s.auditLogs {
		if entry.ID == id {
			found := entry
			return &found, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) FindAuditLogs(_ context.Context, filter store.AuditFilter) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 16)
	for _, entry := range s.auditLogs {
		if matchesAudit(entry, filter) {
			result = append(result, entry)
		}
	}
	slices.SortStableFunc(result, func(a, b domain.AuditLog) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func matchesAudit(entry domain.AuditLog, filter store.AuditFilter) bool {
	if filter.Module != "" && entry.Module != filter.Module {
		return false
	}
	if filter.Action != "" && entry.Action != filter.Action {
		return false
	}
	if filter.EntityID != "" && entry.EntityID != filter.EntityID {
		return false
	}
	return true
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortStableFunc(result, func(a, b domain.AuditLog) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrConflict
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

// stockLevels must be called with s.mu held.
func (s *Store) stockLevels() map[string]int {
	levels := make(map[string]int, len(s.products))
	for _, move := range s.stockMoves {
		levels[move.SKU] += move.Qty
	}
	return levels
}

func giftQty(meta string) int64 {
	if meta == "" {
		return 0
	}
	var decoded struct {
		GiftQty int64 `json:"giftQty"`
	}
	if err := json.Unmarshal([]byte(meta), &decoded); err != nil {
		return 0
	}
	return decoded.GiftQty
}

func cloneProduct(src domain.Product) domain.Product {
	dst := src
	dst.Tags = slices.Clone(src.Tags)
	return dst
}

func cloneSale(src domain.Sale) domain.Sale {
	dst := src
	dst.Lines = make([]domain.SaleLine, len(src.Lines))
	for i, line := range src.Lines {
		line.Tags = slices.Clone(line.Tags)
		dst.Lines[i] = line
	}
	dst.Promos = slices.Clone(src.Promos)
	return dst
}
