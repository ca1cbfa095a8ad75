package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/alqutdigital/tender-watch/internal/announcement"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS announcements (
		id                    BIGSERIAL PRIMARY KEY,
		category              VARCHAR(32)  NOT NULL,
		project_code          VARCHAR(128) NOT NULL,
		project_name          TEXT         NOT NULL,
		fingerprint           CHAR(32)     NOT NULL UNIQUE,
		procurement_name      TEXT,
		status                VARCHAR(64),
		procurement_type      VARCHAR(64),
		detail_url            TEXT,
		file_deadline         TIMESTAMPTZ,
		bid_open_time         TIMESTAMPTZ,
		bid_open_location     TEXT,
		tenderer              TEXT,
		contact_person        VARCHAR(128),
		contact_phone         VARCHAR(128),
		backup_contact        VARCHAR(128),
		backup_phone          VARCHAR(128),
		fax                   VARCHAR(128),
		email                 VARCHAR(256),
		introduction          TEXT,
		file_download         TEXT,
		bidding_file_download TEXT,
		change_file_download  TEXT,
		change_content        TEXT,
		publish_time          TIMESTAMPTZ,
		notified              BOOLEAN      NOT NULL DEFAULT FALSE,
		created_at            TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
		updated_at            TIMESTAMPTZ  NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_announcements_project_code ON announcements (project_code)`,
	`CREATE INDEX IF NOT EXISTS idx_announcements_category_publish ON announcements (category, publish_time DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_announcements_unnotified ON announcements (id) WHERE NOT notified`,
}

const columns = `id, category, project_code, project_name, fingerprint,
	procurement_name, status, procurement_type, detail_url, file_deadline,
	bid_open_time, bid_open_location, tenderer, contact_person, contact_phone,
	backup_contact, backup_phone, fax, email, introduction, file_download,
	bidding_file_download, change_file_download, change_content, publish_time,
	notified, created_at, updated_at`

// detailColumns are the mutable columns written by both insert and update.
var detailColumns = []string{
	"project_name", "procurement_name", "status", "procurement_type", "detail_url",
	"file_deadline", "bid_open_time", "bid_open_location", "tenderer",
	"contact_person", "contact_phone", "backup_contact", "backup_phone", "fax",
	"email", "introduction", "file_download", "bidding_file_download",
	"change_file_download", "change_content", "publish_time",
}

// ListFilter narrows List. Zero values match everything.
type ListFilter struct {
	Category announcement.Category
	Status   string
	// Keyword matches project name or code, case-insensitively.
	Keyword string
}

// Page bounds a List query.
type Page struct {
	Limit  int
	Offset int
}

// AnnouncementRepository stores announcement records.
type AnnouncementRepository struct {
	db *sqlx.DB
}

// NewAnnouncementRepository creates a repository on db.
func NewAnnouncementRepository(db *sqlx.DB) *AnnouncementRepository {
	return &AnnouncementRepository{db: db}
}

// Migrate creates the table and indexes if missing.
func (r *AnnouncementRepository) Migrate(ctx context.Context) error {
	return WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		for _, stmt := range schema {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("failed to apply migration: %w", err)
			}
		}
		return nil
	})
}

// FindByFingerprint returns the record with fingerprint, or nil when absent.
func (r *AnnouncementRepository) FindByFingerprint(ctx context.Context, fingerprint string) (*announcement.Record, error) {
	var rec announcement.Record
	err := r.db.GetContext(ctx, &rec, `SELECT `+columns+` FROM announcements WHERE fingerprint = $1`, fingerprint)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query announcement: %w", err)
	}
	return &rec, nil
}

// Get returns the record with id or ErrNotFound.
func (r *AnnouncementRepository) Get(ctx context.Context, id int64) (*announcement.Record, error) {
	var rec announcement.Record
	err := r.db.GetContext(ctx, &rec, `SELECT `+columns+` FROM announcements WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query announcement: %w", err)
	}
	return &rec, nil
}

// Insert stores rec unless its fingerprint is already present, in which case
// it reports false. On success rec's ID and timestamps are filled.
func (r *AnnouncementRepository) Insert(ctx context.Context, rec *announcement.Record) (bool, error) {
	cols := append([]string{"category", "project_code", "fingerprint", "notified"}, detailColumns...)
	query := fmt.Sprintf(
		`INSERT INTO announcements (%s) VALUES (:%s)
		ON CONFLICT (fingerprint) DO NOTHING
		RETURNING id, created_at, updated_at`,
		strings.Join(cols, ", "), strings.Join(cols, ", :"),
	)

	q, args, err := sqlx.Named(query, rec)
	if err != nil {
		return false, fmt.Errorf("failed to bind insert: %w", err)
	}

	err = r.db.QueryRowxContext(ctx, r.db.Rebind(q), args...).Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to insert announcement: %w", err)
	}
	return true, nil
}

// Update overwrites the mutable columns of the record with rec.ID.
func (r *AnnouncementRepository) Update(ctx context.Context, rec *announcement.Record) error {
	sets := make([]string, 0, len(detailColumns)+1)
	for _, c := range detailColumns {
		sets = append(sets, c+" = :"+c)
	}
	sets = append(sets, "updated_at = NOW()")
	query := `UPDATE announcements SET ` + strings.Join(sets, ", ") + ` WHERE id = :id`

	res, err := r.db.NamedExecContext(ctx, query, rec)
	if err != nil {
		return fmt.Errorf("failed to update announcement: %w", err)
	}
	return expectOne(res)
}

// MarkNotified flags the record as notified.
func (r *AnnouncementRepository) MarkNotified(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `UPDATE announcements SET notified = TRUE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to mark announcement notified: %w", err)
	}
	return expectOne(res)
}

// FindUnnotified returns records never successfully notified, oldest first.
func (r *AnnouncementRepository) FindUnnotified(ctx context.Context) ([]*announcement.Record, error) {
	var out []*announcement.Record
	err := r.db.SelectContext(ctx, &out, `SELECT `+columns+` FROM announcements WHERE NOT notified ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query unnotified announcements: %w", err)
	}
	return out, nil
}

// List returns one page of records matching f, newest publish time first,
// with the total number of matches.
func (r *AnnouncementRepository) List(ctx context.Context, f ListFilter, p Page) ([]*announcement.Record, int, error) {
	var (
		where []string
		args  []any
	)
	if f.Category != "" {
		args = append(args, string(f.Category))
		where = append(where, fmt.Sprintf("category = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if kw := strings.TrimSpace(f.Keyword); kw != "" {
		args = append(args, "%"+kw+"%")
		where = append(where, fmt.Sprintf("(project_name ILIKE $%d OR project_code ILIKE $%d)", len(args), len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM announcements`+clause, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count announcements: %w", err)
	}

	limit := p.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := max(p.Offset, 0)
	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT %s FROM announcements%s
		ORDER BY publish_time DESC NULLS LAST, id DESC
		LIMIT $%d OFFSET $%d`, columns, clause, len(args)-1, len(args))

	out := []*announcement.Record{}
	if err := r.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list announcements: %w", err)
	}
	return out, total, nil
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
