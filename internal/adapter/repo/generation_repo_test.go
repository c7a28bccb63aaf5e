package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"visualbatch/internal/domain"
)

type stubRow struct {
	scan func(dest ...any) error
}

func (r stubRow) Scan(dest ...any) error {
	if r.scan == nil {
		return pgx.ErrNoRows
	}
	return r.scan(dest...)
}

type stubSQL struct {
	execQueries  []string
	execArgs     [][]any
	rowsAffected int64
	row          stubRow
}

func (s *stubSQL) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	s.execQueries = append(s.execQueries, query)
	s.execArgs = append(s.execArgs, args)
	return pgconn.NewCommandTag(fmt.Sprintf("UPDATE %d", s.rowsAffected)), nil
}

func (s *stubSQL) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	return s.row
}

func (s *stubSQL) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("unsupported")
}

func TestGenerationRepositoryGetNotFound(t *testing.T) {
	sql := &stubSQL{}
	repo := NewGenerationRepository(sql)

	_, err := repo.Get(context.Background(), "3f1c4d1e-0000-4000-8000-000000000001")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGenerationRepositoryGetDecodesVisuals(t *testing.T) {
	visuals, _ := json.Marshal([]domain.Visual{{Index: 0, Type: "duo", Prompt: "p", Status: domain.StatusCompleted, ImageURL: "http://x/0.png"}})
	now := time.Now()
	sql := &stubSQL{row: stubRow{scan: func(dest ...any) error {
		values := []any{
			"gen-1", "owner-1", "prod", "style", "", "Linen Shirt", "", "1:1", "1K", "", "COMPLETED",
			visuals, 100, 1, "", (*time.Time)(nil), &now, now, now,
		}
		if len(dest) != len(values) {
			return fmt.Errorf("scan arity %d != %d", len(dest), len(values))
		}
		for i, v := range values {
			switch d := dest[i].(type) {
			case *string:
				*d = v.(string)
			case *int:
				*d = v.(int)
			case *[]byte:
				*d = v.([]byte)
			case **time.Time:
				*d = v.(*time.Time)
			case *time.Time:
				*d = v.(time.Time)
			default:
				return fmt.Errorf("unsupported scan target %T", d)
			}
		}
		return nil
	}}}
	repo := NewGenerationRepository(sql)

	gen, err := repo.Get(context.Background(), "gen-1")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if gen.Status != domain.StatusCompleted || len(gen.Visuals) != 1 || gen.Visuals[0].ImageURL != "http://x/0.png" {
		t.Fatalf("unexpected generation: %+v", gen)
	}
	if gen.ProductName != "Linen Shirt" {
		t.Fatalf("ProductName = %q", gen.ProductName)
	}
}

func TestGenerationRepositorySaveRecomputesCounters(t *testing.T) {
	sql := &stubSQL{rowsAffected: 1}
	repo := NewGenerationRepository(sql)
	gen := &domain.Generation{
		ID:     "gen-1",
		Status: domain.StatusProcessing,
		Visuals: []domain.Visual{
			{Index: 0, Status: domain.StatusCompleted},
			{Index: 1, Status: domain.StatusFailed},
			{Index: 2, Status: domain.StatusPending},
			{Index: 3, Status: domain.StatusPending},
		},
	}
	if err := repo.Save(context.Background(), gen); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	if len(sql.execQueries) != 1 || !strings.Contains(sql.execQueries[0], "update generations") {
		t.Fatalf("unexpected queries: %v", sql.execQueries)
	}
	args := sql.execArgs[0]
	if args[4] != 50 || args[5] != 1 {
		t.Fatalf("derived counters not persisted: progress=%v completed=%v", args[4], args[5])
	}
}

func TestGenerationRepositorySaveMissingRow(t *testing.T) {
	repo := NewGenerationRepository(&stubSQL{rowsAffected: 0})
	err := repo.Save(context.Background(), &domain.Generation{ID: "missing"})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryRepositoryClonesRecords(t *testing.T) {
	repo := NewMemoryGenerationRepository()
	ctx := context.Background()
	gen := &domain.Generation{ID: "g", Status: domain.StatusPending, Visuals: []domain.Visual{{Index: 0, Status: domain.StatusPending}}}
	if err := repo.Create(ctx, gen); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	gen.Visuals[0].Status = domain.StatusCompleted

	stored, err := repo.Get(ctx, "g")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if stored.Visuals[0].Status != domain.StatusPending {
		t.Fatalf("repository aliased caller slice")
	}
	if err := repo.Create(ctx, gen); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict on duplicate create, got %v", err)
	}
}
