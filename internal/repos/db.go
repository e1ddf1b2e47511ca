package repos

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"
)

// SQLStore is the SQLite-backed Store. Outside a transaction q is the pool,
// inside InTx it is the transaction.
type SQLStore struct {
	db   *sqlx.DB
	q    sqlx.ExtContext
	inTx bool
}

func OpenDB(dsn string, seed bool) (*SQLStore, error) {
	db, err := sqlx.Open("sqlite", sqliteDSN(dsn))
	if err != nil {
		return nil, err
	}
	// SQLite has a single writer; one connection keeps conditional stock updates
	// serialized and makes ":memory:" databases visible to every caller.
	db.SetMaxOpenConns(1)
	if err = db.Ping(); err != nil {
		return nil, err
	}

	if err := ensureSchema(db); err != nil {
		return nil, err
	}
	if seed {
		if err := seedIfEmpty(db); err != nil {
			return nil, err
		}
		if err := seedUsers(db); err != nil {
			return nil, err
		}
	}
	return NewSQLStore(db), nil
}

func NewSQLStore(db *sqlx.DB) *SQLStore { return &SQLStore{db: db, q: db} }

func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_pragma=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

func (s *SQLStore) DB() *sqlx.DB { return s.db }

func (s *SQLStore) Catalog() Catalog { return &ProductRepo{q: s.q} }
func (s *SQLStore) Carts() Carts     { return &CartRepo{q: s.q} }
func (s *SQLStore) Orders() Ledger   { return &OrderRepo{q: s.q} }
func (s *SQLStore) Users() Users     { return &UserRepo{q: s.q} }

func (s *SQLStore) InTx(ctx context.Context, fn func(Store) error) error {
	if s.inTx {
		return fn(s)
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&SQLStore{db: s.db, q: tx, inTx: true}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *SQLStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }
func (s *SQLStore) Close() error                   { return s.db.Close() }

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func ensureSchema(db *sqlx.DB) error {
	schema := `
-- Categories
CREATE TABLE IF NOT EXISTS categories(
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL
);

-- Products (money stored as decimal text)
CREATE TABLE IF NOT EXISTS products(
  id TEXT PRIMARY KEY,
  category_id TEXT NOT NULL REFERENCES categories(id) ON DELETE RESTRICT,
  name TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  price TEXT NOT NULL,
  discount_price TEXT,
  stock INTEGER NOT NULL DEFAULT 0 CHECK (stock >= 0),
  active INTEGER NOT NULL DEFAULT 1,
  created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_products_category ON products(category_id);
CREATE INDEX IF NOT EXISTS idx_products_name     ON products(LOWER(name));

-- Users & Sessions
CREATE TABLE IF NOT EXISTS users(
  id TEXT PRIMARY KEY,
  email TEXT NOT NULL UNIQUE,
  name TEXT NOT NULL,
  password_hash TEXT NOT NULL,
  role TEXT NOT NULL CHECK (role IN ('USER','ADMIN')),
  created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email ON users(LOWER(email));

CREATE TABLE IF NOT EXISTS sessions(
  id TEXT PRIMARY KEY,               -- same value as the 'sid' cookie
  user_id TEXT NULL REFERENCES users(id) ON DELETE SET NULL,
  created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
  last_seen  DATETIME
);
CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);

-- Carts (emptied, never deleted, on checkout)
CREATE TABLE IF NOT EXISTS carts(
  user_id TEXT PRIMARY KEY,
  created_at DATETIME NOT NULL,
  updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS cart_items(
  user_id    TEXT NOT NULL REFERENCES carts(user_id) ON DELETE CASCADE,
  product_id TEXT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
  quantity INTEGER NOT NULL CHECK (quantity >= 1),
  added_at DATETIME NOT NULL,
  PRIMARY KEY (user_id, product_id)
);

-- Orders
CREATE TABLE IF NOT EXISTS orders(
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  total_amount TEXT NOT NULL,
  shipping_address TEXT NOT NULL,   -- json
  payment_method TEXT NOT NULL,
  payment_status TEXT NOT NULL CHECK (payment_status IN ('pending','paid','failed')),
  transaction_id TEXT NOT NULL DEFAULT '',
  order_status TEXT NOT NULL CHECK (order_status IN ('placed','processing','shipped','delivered','cancelled')),
  stock_restored INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME NOT NULL,
  updated_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_orders_user       ON orders(user_id);
CREATE INDEX IF NOT EXISTS idx_orders_created_at ON orders(created_at);
CREATE INDEX IF NOT EXISTS idx_orders_status     ON orders(order_status);

CREATE TABLE IF NOT EXISTS order_items(
  order_id  TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
  position  INTEGER NOT NULL,
  product_id TEXT NOT NULL,
  name TEXT NOT NULL,
  quantity INTEGER NOT NULL CHECK (quantity >= 1),
  unit_price TEXT NOT NULL,
  line_total TEXT NOT NULL,
  PRIMARY KEY (order_id, position)
);
`
	_, err := db.Exec(schema)
	return err
}

func seedIfEmpty(db *sqlx.DB) error {
	var n int
	if err := db.Get(&n, `SELECT COUNT(*) FROM categories`); err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	log.Println("[seed] inserting demo categories/products")

	now := time.Now().UTC()
	tx := db.MustBegin()
	defer func() { _ = tx.Rollback() }()

	for _, c := range DemoCategories {
		if _, err := tx.Exec(`INSERT INTO categories(id,name) VALUES(?,?)`, c.ID, c.Name); err != nil {
			return err
		}
	}
	for _, x := range DemoProducts {
		if _, err := tx.Exec(`
			INSERT INTO products(id,category_id,name,description,price,discount_price,stock,active,created_at,updated_at)
			VALUES(?,?,?,?,?,?,?,1,?,?)
		`, x.ID, x.CategoryID, x.Name, x.Description, x.Price, x.DiscountValue(), x.Stock, now, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// seedUsers inserts the demo USERs and ADMIN into an empty users table.
func seedUsers(db *sqlx.DB) error {
	var n int
	if err := db.Get(&n, `SELECT COUNT(*) FROM users`); err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	tx := db.MustBegin()
	defer func() { _ = tx.Rollback() }()

	for _, x := range DemoUsers {
		h, err := bcrypt.GenerateFromPassword([]byte(x.Password), bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(`
			INSERT INTO users(id,email,name,password_hash,role)
			VALUES(?,?,?,?,?)
			ON CONFLICT(email) DO NOTHING
		`, x.ID, x.Email, x.Name, string(h), x.Role); err != nil {
			return err
		}
	}

	return tx.Commit()
}
