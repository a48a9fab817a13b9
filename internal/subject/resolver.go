package subject

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudacm/acm/internal/acmerr"
	"github.com/cloudacm/acm/internal/db"
	"github.com/sirupsen/logrus"
)

// Resolver translates external subject references into subject rows. Its
// methods take a Querier so resolution can run inside the transaction of
// whichever operation needs it.
type Resolver struct{}

// NewResolver creates a subject resolver
func NewResolver() *Resolver {
	return &Resolver{}
}

// Resolve looks up the subject a single external reference denotes. A
// reference only matches a row of the kind its prefix implies.
func (r *Resolver) Resolve(ctx context.Context, q db.Querier, ref string) (*Subject, error) {
	if ref == "" {
		return nil, acmerr.Invalidf("empty subject id")
	}

	parsed := ParseRef(ref)
	s, err := getByImmutableID(ctx, q, parsed.ID, parsed.Kind)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			logrus.WithFields(logrus.Fields{
				"subject": ref,
				"kind":    parsed.Kind,
			}).Error("Could not find subject")
			return nil, acmerr.NotFoundf("could not find %s %s", parsed.Kind, ref)
		}
		return nil, acmerr.Wrap(fmt.Errorf("failed to resolve subject %s: %w", ref, err))
	}

	return s, nil
}

// ResolveBatch resolves a list of references in a single query, keyed by
// the original reference. Every reference must resolve to a row of the
// kind its prefix implies; a shortfall fails the whole batch. The kind
// check guards against a group and a user sharing an immutable id being
// cross-matched.
func (r *Resolver) ResolveBatch(ctx context.Context, q db.Querier, refs []string) (map[string]*Subject, error) {
	resolved := make(map[string]*Subject, len(refs))
	if len(refs) == 0 {
		return resolved, nil
	}

	requested := make(map[string]bool, len(refs))
	ids := make([]interface{}, 0, len(refs))
	for _, ref := range refs {
		requested[ref] = true
		ids = append(ids, ParseRef(ref).ID)
	}

	query := fmt.Sprintf(`
		SELECT id, immutable_id, type, additional_info, created_at, updated_at
		FROM subjects
		WHERE immutable_id IN (%s)
	`, placeholders(len(ids)))

	rows, err := q.QueryContext(ctx, query, ids...)
	if err != nil {
		return nil, acmerr.Wrap(fmt.Errorf("failed to query subjects: %w", err))
	}
	defer rows.Close()

	for rows.Next() {
		s, err := scanSubject(rows)
		if err != nil {
			return nil, acmerr.Wrap(fmt.Errorf("failed to scan subject: %w", err))
		}

		// A row is only accepted back under the original reference whose
		// prefix matches its kind.
		ref := s.Ref().String()
		if requested[ref] {
			resolved[ref] = s
		}
	}
	if err := rows.Err(); err != nil {
		return nil, acmerr.Wrap(fmt.Errorf("failed to read subjects: %w", err))
	}

	if len(resolved) != len(requested) {
		logrus.WithFields(logrus.Fields{
			"requested": len(requested),
			"found":     len(resolved),
		}).Error("Failed to find some subjects")
		return nil, acmerr.Invalidf("failed to find some subjects: requested %d, found %d", len(requested), len(resolved))
	}

	return resolved, nil
}

func getByImmutableID(ctx context.Context, q db.Querier, immutableID string, kind Kind) (*Subject, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, immutable_id, type, additional_info, created_at, updated_at
		FROM subjects
		WHERE immutable_id = ? AND type = ?
	`, immutableID, string(kind))
	return scanSubject(row)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSubject(row rowScanner) (*Subject, error) {
	var s Subject
	var kind string
	var additionalInfo sql.NullString

	if err := row.Scan(&s.ID, &s.ImmutableID, &kind, &additionalInfo, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}

	s.Kind = Kind(kind)
	if additionalInfo.Valid {
		s.AdditionalInfo = additionalInfo.String
	}

	return &s, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
