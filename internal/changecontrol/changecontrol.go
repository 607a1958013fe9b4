// Package changecontrol guards and versions edits to the query text of
// transformation steps. Every accepted edit archives the previous text first.
package changecontrol

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"kettleplane/internal/errs"
	"kettleplane/internal/store"

	"go.uber.org/zap"
)

// DefaultVersionLimit is used when ListVersions is called without a positive limit.
const DefaultVersionLimit = 10

// destructive matches a DROP, DELETE or TRUNCATE keyword followed by any
// whitespace, a statement terminator or the end of the text.
var destructive = regexp.MustCompile(`\b(?:DROP|DELETE|TRUNCATE)(?:\s|;|$)`)

// Validate applies the read-only text guard. It is not a SQL parser: it only
// checks the leading keyword and scans for destructive commands.
func Validate(text string) error {
	q := strings.ToUpper(strings.TrimSpace(text))
	if q == "" {
		return errs.E("validate", errs.ErrValidationFailed, "Empty query", nil)
	}
	if !strings.HasPrefix(q, "SELECT") && !strings.HasPrefix(q, "WITH") {
		return errs.E("validate", errs.ErrValidationFailed, "Query must start with SELECT or WITH", nil)
	}
	if destructive.MatchString(q) {
		return errs.E("validate", errs.ErrValidationFailed, "Destructive commands (DROP/DELETE) not allowed via Bot.", nil)
	}
	return nil
}

// Service is the change-control front for SQL steps.
type Service struct {
	store  store.SqlStore
	logger *zap.Logger
}

// New creates a service over s.
func New(s store.SqlStore, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: s, logger: logger}
}

// ReadQuery returns the SQL steps of a transformation.
func (s *Service) ReadQuery(ctx context.Context, transformation string) ([]store.SqlAttribute, error) {
	steps, err := s.store.ListSqlSteps(ctx, transformation)
	if err != nil {
		return nil, fmt.Errorf("read query of %s: %w", transformation, err)
	}
	return steps, nil
}

// ProposeUpdate validates newText and, if it passes, replaces the step's query
// in one transaction that also archives the old text.
func (s *Service) ProposeUpdate(ctx context.Context, transformation, step, newText, actor string) error {
	if err := Validate(newText); err != nil {
		s.logger.Info("rejected sql edit",
			zap.String("transformation", transformation),
			zap.String("step", step),
			zap.String("actor", actor),
			zap.String("reason", errs.Message(err)),
		)
		return err
	}

	if err := s.store.ReplaceSql(ctx, transformation, step, newText, actor); err != nil {
		s.logger.Warn("sql edit failed",
			zap.String("transformation", transformation),
			zap.String("step", step),
			zap.Error(err),
		)
		return err
	}

	s.logger.Info("sql updated",
		zap.String("transformation", transformation),
		zap.String("step", step),
		zap.String("actor", actor),
	)
	return nil
}

// ListVersions returns archived texts of one step, newest first.
func (s *Service) ListVersions(ctx context.Context, transformation, step string, limit int) ([]store.SqlVersion, error) {
	if limit <= 0 {
		limit = DefaultVersionLimit
	}
	versions, err := s.store.ListSqlVersions(ctx, transformation, step, limit)
	if err != nil {
		return nil, fmt.Errorf("list versions of %s/%s: %w", transformation, step, err)
	}
	return versions, nil
}

// ReadVersion returns one archived text.
func (s *Service) ReadVersion(ctx context.Context, id int64) (*store.SqlVersion, error) {
	v, err := s.store.GetSqlVersion(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("read version %d: %w", id, err)
	}
	return v, nil
}

// FindUsage lists steps whose query text mentions term.
func (s *Service) FindUsage(ctx context.Context, term string) ([]store.SqlUsage, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, errs.E("find usage", errs.ErrValidationFailed, "search term is required", nil)
	}
	usage, err := s.store.FindSqlUsage(ctx, term)
	if err != nil {
		return nil, fmt.Errorf("find usage of %q: %w", term, err)
	}
	return usage, nil
}
