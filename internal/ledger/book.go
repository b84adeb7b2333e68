package ledger

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/shipsure/internal/policy"
	"github.com/roach88/shipsure/internal/store"
)

//go:embed schema.sql
var schemaSQL string

const (
	metaOwner   = "owner"
	metaOracle  = "oracle"
	metaBalance = "balance"
)

// Book is the SQLite-backed ledger.
type Book struct {
	db  *sql.DB
	now func() time.Time
}

// Option configures a Book.
type Option func(*Book)

// WithClock overrides the clock used for policy start times and claim
// timestamps.
func WithClock(now func() time.Time) Option {
	return func(b *Book) {
		b.now = now
	}
}

// Open creates or opens a ledger database. On first open the owner becomes
// both owner and oracle with a zero balance; on later opens owner must match
// the recorded owner.
func Open(path, owner string, opts ...Option) (*Book, error) {
	if owner == "" {
		return nil, fmt.Errorf("open ledger: owner identity is required")
	}

	db, err := store.OpenSQLite(path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply ledger schema: %w", err)
	}

	for key, value := range map[string]string{
		metaOwner:   owner,
		metaOracle:  owner,
		metaBalance: "0",
	} {
		if _, err := db.Exec(`INSERT INTO ledger_meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO NOTHING`, key, value); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to seed ledger meta: %w", err)
		}
	}

	var recorded string
	if err := db.QueryRow(`SELECT value FROM ledger_meta WHERE key = ?`, metaOwner).Scan(&recorded); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to read ledger owner: %w", err)
	}
	if recorded != owner {
		db.Close()
		return nil, fmt.Errorf("open ledger: owner %q does not match recorded owner %q", owner, recorded)
	}

	b := &Book{db: db, now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Close closes the ledger database.
func (b *Book) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}

// As returns a Ledger whose writes are made by caller.
func (b *Book) As(caller string) Ledger {
	return &session{book: b, caller: caller}
}

// Oracle returns the identity currently allowed to submit status updates.
func (b *Book) Oracle(ctx context.Context) (string, error) {
	var v string
	err := b.db.QueryRowContext(ctx, `SELECT value FROM ledger_meta WHERE key = ?`, metaOracle).Scan(&v)
	if err != nil {
		return "", wrapDB("read oracle", err)
	}
	return v, nil
}

// SetOracle replaces the oracle identity. Owner only.
func (b *Book) SetOracle(ctx context.Context, caller, identity string) (Receipt, error) {
	if identity == "" {
		return Receipt{}, fmt.Errorf("set oracle: empty identity")
	}
	return b.write(ctx, "set oracle", caller, func(tx *sql.Tx, r *Receipt) error {
		if err := requireMeta(ctx, tx, metaOwner, caller, ErrNotOwner); err != nil {
			return err
		}
		if err := setMeta(ctx, tx, metaOracle, identity); err != nil {
			return err
		}
		r.Events = append(r.Events, Event{Kind: EventOracleUpdated, Identity: identity})
		return nil
	})
}

// Fund adds amount to the payout reserve. Owner only.
func (b *Book) Fund(ctx context.Context, caller string, amount policy.Amount) (Receipt, error) {
	if !amount.IsPositive() {
		return Receipt{}, fmt.Errorf("fund: amount must be positive")
	}
	return b.write(ctx, "fund", caller, func(tx *sql.Tx, r *Receipt) error {
		if err := requireMeta(ctx, tx, metaOwner, caller, ErrNotOwner); err != nil {
			return err
		}
		if err := adjustBalance(ctx, tx, amount, false); err != nil {
			return err
		}
		r.Events = append(r.Events, Event{Kind: EventFunded, Amount: amount, Identity: caller})
		return nil
	})
}

// CreatePolicy insures a shipment for holder. premiumPaid must equal the
// premium derived from coverage; it is credited to the reserve.
func (b *Book) CreatePolicy(ctx context.Context, holder, shipmentID string, coverage policy.Amount, duration time.Duration, premiumPaid policy.Amount) (policy.Policy, Receipt, error) {
	var p policy.Policy

	switch {
	case shipmentID == "" || holder == "":
		return p, Receipt{}, fmt.Errorf("create policy: shipment id and holder are required")
	case !coverage.IsPositive():
		return p, Receipt{}, fmt.Errorf("create policy %s: %w", shipmentID, ErrInvalidCoverage)
	case duration <= 0:
		return p, Receipt{}, fmt.Errorf("create policy %s: %w", shipmentID, ErrInvalidDuration)
	}

	premium := policy.Premium(coverage)
	if !premiumPaid.Equal(premium) {
		return p, Receipt{}, fmt.Errorf("create policy %s: paid %s, want %s: %w", shipmentID, premiumPaid, premium, ErrPremiumMismatch)
	}

	start := b.now().UTC()
	p = policy.Policy{
		ShipmentID:     shipmentID,
		Holder:         holder,
		CoverageAmount: coverage,
		Premium:        premium,
		StartTime:      start,
		EndTime:        start.Add(duration),
		Status:         policy.Active,
		ShipmentStatus: policy.InTransit,
	}

	r, err := b.write(ctx, "create policy "+shipmentID, holder, func(tx *sql.Tx, r *Receipt) error {
		r.ShipmentID = shipmentID
		res, err := tx.ExecContext(ctx, `
			INSERT INTO ledger_policies
			(shipment_id, holder, coverage_amount, premium, start_time, end_time, status, shipment_status, claim_processed)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(shipment_id) DO NOTHING
		`,
			p.ShipmentID, p.Holder, p.CoverageAmount, p.Premium,
			p.StartTime.UnixNano(), p.EndTime.UnixNano(),
			p.Status.String(), p.ShipmentStatus.String(), false,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrShipmentInsured
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		p.PolicyID = uint64(id)

		if err := adjustBalance(ctx, tx, premium, false); err != nil {
			return err
		}
		r.Events = append(r.Events, Event{
			Kind:       EventPolicyCreated,
			PolicyID:   p.PolicyID,
			ShipmentID: shipmentID,
			Amount:     coverage,
			Identity:   holder,
		})
		return nil
	})
	if err != nil {
		return policy.Policy{}, Receipt{}, err
	}
	return p, r, nil
}

// write runs fn inside one transaction that allocates the next block
// number, records fn's events and stamps the receipt with its hash.
func (b *Book) write(ctx context.Context, op, caller string, fn func(tx *sql.Tx, r *Receipt) error) (Receipt, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return Receipt{}, wrapDB(op, err)
	}
	defer tx.Rollback() // No-op if committed

	var r Receipt
	err = tx.QueryRowContext(ctx, `
		INSERT INTO ledger_blocks (caller, timestamp) VALUES (?, ?)
		RETURNING block_number
	`, caller, b.now().UnixNano()).Scan(&r.BlockNumber)
	if err != nil {
		return Receipt{}, wrapDB(op, err)
	}

	if err := fn(tx, &r); err != nil {
		if IsRejected(err) || errors.Is(err, ErrPolicyTerminal) {
			return Receipt{}, fmt.Errorf("%s: %w", op, err)
		}
		return Receipt{}, wrapDB(op, err)
	}

	r.TxHash, err = txHash(r.ShipmentID, r.Status, r.BlockNumber)
	if err != nil {
		return Receipt{}, fmt.Errorf("%s: %w", op, err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE ledger_blocks SET tx_hash = ? WHERE block_number = ?`, r.TxHash, r.BlockNumber); err != nil {
		return Receipt{}, wrapDB(op, err)
	}

	for _, e := range r.Events {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO ledger_events
			(block_number, kind, policy_id, claim_id, shipment_id, status, amount, identity)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, r.BlockNumber, string(e.Kind), e.PolicyID, e.ClaimID, e.ShipmentID, e.Status.String(), e.Amount, e.Identity)
		if err != nil {
			return Receipt{}, wrapDB(op, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Receipt{}, wrapDB(op, err)
	}
	return r, nil
}

// txHash is the domain-separated hash of {shipment, status, block}.
func txHash(shipmentID string, status policy.ShipmentStatus, block uint64) (string, error) {
	h, err := policy.Hash(policy.DomainLedgerTx, map[string]any{
		"shipment": shipmentID,
		"status":   status,
		"block":    block,
	})
	if err != nil {
		return "", err
	}
	return "0x" + h, nil
}

func getMeta(ctx context.Context, tx *sql.Tx, key string) (string, error) {
	var v string
	if err := tx.QueryRowContext(ctx, `SELECT value FROM ledger_meta WHERE key = ?`, key).Scan(&v); err != nil {
		return "", err
	}
	return v, nil
}

func setMeta(ctx context.Context, tx *sql.Tx, key, value string) error {
	_, err := tx.ExecContext(ctx, `UPDATE ledger_meta SET value = ? WHERE key = ?`, value, key)
	return err
}

// requireMeta fails with denied unless the meta value for key equals want.
func requireMeta(ctx context.Context, tx *sql.Tx, key, want string, denied error) error {
	v, err := getMeta(ctx, tx, key)
	if err != nil {
		return err
	}
	if v != want {
		return denied
	}
	return nil
}

// adjustBalance credits or debits the reserve. A debit larger than the
// balance fails with ErrInsufficientReserve.
func adjustBalance(ctx context.Context, tx *sql.Tx, amount policy.Amount, debit bool) error {
	raw, err := getMeta(ctx, tx, metaBalance)
	if err != nil {
		return err
	}
	balance, err := policy.ParseAmount(raw)
	if err != nil {
		return fmt.Errorf("corrupt ledger balance %q: %w", raw, err)
	}
	if debit {
		if balance.Cmp(amount) < 0 {
			return ErrInsufficientReserve
		}
		balance = balance.Sub(amount)
	} else {
		balance = balance.Add(amount)
	}
	return setMeta(ctx, tx, metaBalance, balance.String())
}
