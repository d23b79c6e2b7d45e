package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/moltstore/appreview/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer. Limiting to a single
	// connection serializes all DB access through Go's connection pool.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// newULID generates a new ULID string.
func newULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()

		var count int
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count); err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Reviews ---

func (s *SQLiteStore) CreateReview(ctx context.Context, r *models.ReviewResult) error {
	if r.ID == "" {
		r.ID = newULID()
	}
	if r.Status == "" {
		r.Status = models.ReviewStatusProcessing
	}
	r.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reviews (id, app_id, file_hash, status, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.AppID, r.FileHash, r.Status, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create review: %w", err)
	}
	return nil
}

const reviewColumns = `id, app_id, file_hash, status, overall_score, security_score,
	code_quality_score, agent_safety_score, sandbox_score,
	critical_count, high_count, medium_count, low_count,
	recommendation, summary, stages, tokens_used, cost_estimate,
	processing_time_ms, error_message, created_at, completed_at`

func (s *SQLiteStore) scanReview(row interface{ Scan(...any) error }) (*models.ReviewResult, error) {
	r := &models.ReviewResult{}
	var (
		overall, security                     sql.NullInt64
		codeQuality, agentSafety, sandboxNull sql.NullInt64
		recommendation, stagesJSON            sql.NullString
		completedAt                           sql.NullTime
	)
	err := row.Scan(
		&r.ID, &r.AppID, &r.FileHash, &r.Status, &overall, &security,
		&codeQuality, &agentSafety, &sandboxNull,
		&r.CriticalCount, &r.HighCount, &r.MediumCount, &r.LowCount,
		&recommendation, &r.Summary, &stagesJSON, &r.TokensUsed, &r.CostEstimate,
		&r.ProcessingTimeMs, &r.ErrorMessage, &r.CreatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	if overall.Valid {
		r.OverallScore = int(overall.Int64)
	}
	if security.Valid {
		r.SecurityScore = int(security.Int64)
	}
	if codeQuality.Valid {
		v := int(codeQuality.Int64)
		r.CodeQualityScore = &v
	}
	if agentSafety.Valid {
		v := int(agentSafety.Int64)
		r.AgentSafetyScore = &v
	}
	if sandboxNull.Valid {
		v := int(sandboxNull.Int64)
		r.SandboxScore = &v
	}
	if recommendation.Valid {
		r.Recommendation = models.Recommendation(recommendation.String)
	}
	if stagesJSON.Valid && stagesJSON.String != "" {
		if err := json.Unmarshal([]byte(stagesJSON.String), &r.Stages); err != nil {
			return nil, fmt.Errorf("decode stages: %w", err)
		}
	}
	if completedAt.Valid {
		t := completedAt.Time
		r.CompletedAt = &t
	}
	return r, nil
}

func (s *SQLiteStore) GetReview(ctx context.Context, id string) (*models.ReviewResult, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+reviewColumns+` FROM reviews WHERE id = ?`, id)
	r, err := s.scanReview(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("review not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get review: %w", err)
	}
	if err := s.loadFindings(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *SQLiteStore) GetReviewByAppAndHash(ctx context.Context, appID, fileHash string) (*models.ReviewResult, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+reviewColumns+` FROM reviews WHERE app_id = ? AND file_hash = ?
		ORDER BY created_at DESC LIMIT 1`, appID, fileHash)
	r, err := s.scanReview(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("review not found for app %s", appID)
	}
	if err != nil {
		return nil, fmt.Errorf("get review by app and hash: %w", err)
	}
	if err := s.loadFindings(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *SQLiteStore) ListReviews(ctx context.Context, appID string, limit int) ([]*models.ReviewResult, error) {
	query := `SELECT ` + reviewColumns + ` FROM reviews`
	var args []any
	if appID != "" {
		query += ` WHERE app_id = ?`
		args = append(args, appID)
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	defer rows.Close()

	var reviews []*models.ReviewResult
	for rows.Next() {
		r, err := s.scanReview(rows)
		if err != nil {
			return nil, fmt.Errorf("list reviews: %w", err)
		}
		reviews = append(reviews, r)
	}
	return reviews, rows.Err()
}

func (s *SQLiteStore) CompleteReview(ctx context.Context, r *models.ReviewResult) error {
	stagesJSON, err := json.Marshal(r.Stages)
	if err != nil {
		return fmt.Errorf("encode stages: %w", err)
	}

	now := time.Now().UTC()
	r.CompletedAt = &now
	r.Status = models.ReviewStatusCompleted

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("complete review: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE reviews SET status = ?, overall_score = ?, security_score = ?,
			code_quality_score = ?, agent_safety_score = ?, sandbox_score = ?,
			critical_count = ?, high_count = ?, medium_count = ?, low_count = ?,
			recommendation = ?, summary = ?, stages = ?, tokens_used = ?,
			cost_estimate = ?, processing_time_ms = ?, completed_at = ?
		WHERE id = ? AND status NOT IN ('completed', 'failed')`,
		r.Status, r.OverallScore, r.SecurityScore,
		nullableInt(r.CodeQualityScore), nullableInt(r.AgentSafetyScore), nullableInt(r.SandboxScore),
		r.CriticalCount, r.HighCount, r.MediumCount, r.LowCount,
		r.Recommendation, r.Summary, string(stagesJSON), r.TokensUsed,
		r.CostEstimate, r.ProcessingTimeMs, r.CompletedAt,
		r.ID,
	)
	if err != nil {
		return fmt.Errorf("complete review: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("review %s is already terminal", r.ID)
	}

	for _, f := range r.Findings {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO findings (review_id, severity, category, title, description,
				file_path, line_start, line_end, code_snippet, confidence, suggestion)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, f.Severity, f.Category, f.Title, f.Description,
			f.FilePath, f.LineStart, f.LineEnd, f.CodeSnippet, f.Confidence, f.Suggestion,
		); err != nil {
			return fmt.Errorf("insert finding: %w", err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) FailReview(ctx context.Context, id, errorMessage string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE reviews SET status = ?, error_message = ?, completed_at = ?
		WHERE id = ? AND status NOT IN ('completed', 'failed')`,
		models.ReviewStatusFailed, errorMessage, now, id,
	)
	if err != nil {
		return fmt.Errorf("fail review: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("review %s is already terminal", id)
	}
	return nil
}

func (s *SQLiteStore) loadFindings(ctx context.Context, r *models.ReviewResult) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT severity, category, title, description, file_path, line_start,
			line_end, code_snippet, confidence, suggestion
		FROM findings WHERE review_id = ? ORDER BY id`, r.ID)
	if err != nil {
		return fmt.Errorf("load findings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var f models.Finding
		var filePath, codeSnippet, suggestion sql.NullString
		var lineStart, lineEnd sql.NullInt64
		if err := rows.Scan(&f.Severity, &f.Category, &f.Title, &f.Description,
			&filePath, &lineStart, &lineEnd, &codeSnippet, &f.Confidence, &suggestion); err != nil {
			return fmt.Errorf("load findings: %w", err)
		}
		f.FilePath = filePath.String
		f.LineStart = int(lineStart.Int64)
		f.LineEnd = int(lineEnd.Int64)
		f.CodeSnippet = codeSnippet.String
		f.Suggestion = suggestion.String
		r.Findings = append(r.Findings, f)
	}
	return rows.Err()
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
