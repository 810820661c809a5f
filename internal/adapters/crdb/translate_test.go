package crdb

import (
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/robertarktes/event-registrations/internal/domain"
)

func TestTranslate_GeneratedKeyCollisionIsRetried(t *testing.T) {
	for _, constraint := range []string{ticketIDConstraint, inviteCodeConstraint} {
		err := translate(fmt.Errorf("insert: %w", &pgconn.PgError{Code: UniqueViolationCode, ConstraintName: constraint}))
		if !retryable(err) {
			t.Errorf("%s: expected a retryable error, got %v", constraint, err)
		}
		if domain.KindOf(err) != domain.KindConflict {
			t.Errorf("%s: expected conflict once retries run out, got %v", constraint, domain.KindOf(err))
		}
	}
}

func TestTranslate_OtherErrors(t *testing.T) {
	err := translate(&pgconn.PgError{Code: UniqueViolationCode, ConstraintName: "outbox_dedupe_key_key"})
	if retryable(err) {
		t.Errorf("unique violation on a caller supplied value must not be retried")
	}
	if domain.KindOf(err) != domain.KindConflict {
		t.Errorf("expected conflict, got %v", domain.KindOf(err))
	}

	if err := translate(&pgconn.PgError{Code: SerializationFailureCode}); !retryable(err) {
		t.Errorf("serialization failure must be retried, got %v", err)
	}
	if translate(nil) != nil {
		t.Errorf("nil must stay nil")
	}
}
