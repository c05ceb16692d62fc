package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"escrow-service/internal/domain"
	xerrors "escrow-service/pkg/xerrors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// ContractRepository owns contract rows. Update is optimistic on version so a
// lost race surfaces as ErrConcurrentModification instead of a silent overwrite.
type ContractRepository interface {
	Create(ctx context.Context, c *domain.Contract) error
	GetByID(ctx context.Context, id string) (*domain.Contract, error)
	Update(ctx context.Context, c *domain.Contract) error
	List(ctx context.Context, f *domain.ContractFilter) ([]*domain.Contract, error)
}

type contractRepo struct {
	db *pgxpool.Pool
}

func NewContractRepo(db *pgxpool.Pool) ContractRepository {
	return &contractRepo{db: db}
}

// contractDoc is the JSONB projection of the parts that have no own columns.
type contractDoc struct {
	Parties    []domain.Party     `json:"parties"`
	Terms      contractTermsDoc   `json:"terms"`
	Approvals  map[string]bool    `json:"approvals"`
	Milestones domain.Milestones  `json:"milestones"`
	DisputedBy *string            `json:"disputed_by,omitempty"`
}

type contractTermsDoc struct {
	Currency         string    `json:"currency"`
	Value            string    `json:"value"` // decimal as string
	DeliveryDeadline time.Time `json:"delivery_deadline"`
	InspectionDays   int       `json:"inspection_days"`
}

func (r *contractRepo) Create(ctx context.Context, c *domain.Contract) error {
	doc, err := marshalContractDoc(c)
	if err != nil {
		return err
	}
	query := `INSERT INTO contracts (id, status, doc, escrow_wallet_id, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err = r.db.Exec(ctx, query,
		c.ID, string(c.Status), doc, c.EscrowWalletID, c.Version, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create contract: %w", err)
	}
	return nil
}

func (r *contractRepo) GetByID(ctx context.Context, id string) (*domain.Contract, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, status, doc, escrow_wallet_id, version, created_at, updated_at
		 FROM contracts WHERE id = $1`, id)
	return scanContract(row)
}

// Update bumps version; the WHERE clause catches writers racing on stale reads.
func (r *contractRepo) Update(ctx context.Context, c *domain.Contract) error {
	doc, err := marshalContractDoc(c)
	if err != nil {
		return err
	}
	tag, err := r.db.Exec(ctx,
		`UPDATE contracts SET status = $2, doc = $3, escrow_wallet_id = $4,
			version = version + 1, updated_at = $5
		 WHERE id = $1 AND version = $6`,
		c.ID, string(c.Status), doc, c.EscrowWalletID, time.Now(), c.Version)
	if err != nil {
		return fmt.Errorf("failed to update contract: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, c.ID); err != nil {
			return err
		}
		return xerrors.ErrConcurrentModification
	}
	c.Version++
	return nil
}

func (r *contractRepo) List(ctx context.Context, f *domain.ContractFilter) ([]*domain.Contract, error) {
	query := `SELECT id, status, doc, escrow_wallet_id, version, created_at, updated_at
		FROM contracts WHERE 1=1`
	args := []any{}

	if f != nil {
		if f.Status != nil {
			args = append(args, string(*f.Status))
			query += ` AND status = $` + strconv.Itoa(len(args))
		}
		if f.OwnerID != nil {
			args = append(args, *f.OwnerID)
			query += ` AND doc->'parties' @> jsonb_build_array(jsonb_build_object('owner_id', $` +
				strconv.Itoa(len(args)) + `::text))`
		}
	}
	query += ` ORDER BY created_at DESC`
	if f != nil && f.Limit > 0 {
		args = append(args, f.Limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func marshalContractDoc(c *domain.Contract) ([]byte, error) {
	doc := contractDoc{
		Parties: c.Parties,
		Terms: contractTermsDoc{
			Currency:         c.Terms.Currency,
			Value:            c.Terms.Value.String(),
			DeliveryDeadline: c.Terms.DeliveryDeadline,
			InspectionDays:   c.Terms.InspectionDays,
		},
		Approvals:  c.Approvals,
		Milestones: c.Milestones,
		DisputedBy: c.DisputedBy,
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal contract doc: %w", err)
	}
	return b, nil
}

func scanContract(row rowScanner) (*domain.Contract, error) {
	var c domain.Contract
	var status string
	var raw []byte
	err := row.Scan(&c.ID, &status, &raw, &c.EscrowWalletID, &c.Version, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, xerrors.ErrContractNotFound
		}
		return nil, err
	}
	c.Status = domain.ContractStatus(status)

	var doc contractDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("corrupt contract doc %s: %w", c.ID, err)
	}
	value, err := decimal.NewFromString(doc.Terms.Value)
	if err != nil {
		return nil, fmt.Errorf("corrupt trade value on contract %s: %w", c.ID, err)
	}
	c.Parties = doc.Parties
	c.Terms = domain.TradeTerms{
		Currency:         doc.Terms.Currency,
		Value:            value,
		DeliveryDeadline: doc.Terms.DeliveryDeadline,
		InspectionDays:   doc.Terms.InspectionDays,
	}
	c.Approvals = doc.Approvals
	if c.Approvals == nil {
		c.Approvals = map[string]bool{}
	}
	c.Milestones = doc.Milestones
	c.DisputedBy = doc.DisputedBy
	return &c, nil
}
