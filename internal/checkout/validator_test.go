package checkout

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/storyline-backend/pkg/db/models"
	"github.com/angelmondragon/storyline-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storyline-backend/pkg/errors"
)

func price(raw string) decimal.Decimal {
	return decimal.RequireFromString(raw)
}

func writeAction(content, amount string) models.CartAction {
	return models.CartAction{Type: enums.ActionWrite, Content: &content, Price: price(amount)}
}

func targetAction(kind enums.ActionType, id uuid.UUID, amount string) models.CartAction {
	return models.CartAction{Type: kind, WordID: &id, Price: price(amount)}
}

func TestValidatorAcceptsWellFormedBatch(t *testing.T) {
	v := NewValidator(price("0.50"), 0)
	actions := []models.CartAction{
		writeAction("hello", "1.00"),
		targetAction(enums.ActionRedact, uuid.New(), "2.00"),
		targetAction(enums.ActionUncover, uuid.New(), "3.00"),
	}
	if err := v.Validate(actions, price("6")); err != nil {
		t.Fatalf("expected batch to be accepted: %v", err)
	}
}

func TestValidatorRejections(t *testing.T) {
	shared := uuid.New()
	cases := []struct {
		name    string
		actions []models.CartAction
		total   string
		reason  string
	}{
		{
			name:   "empty batch",
			total:  "1.00",
			reason: "at least one action",
		},
		{
			name:    "invalid content",
			actions: []models.CartAction{writeAction("two words", "1.00")},
			total:   "1.00",
			reason:  "word cannot contain spaces",
		},
		{
			name:    "missing content",
			actions: []models.CartAction{{Type: enums.ActionWrite, Price: price("1.00")}},
			total:   "1.00",
			reason:  "write requires content",
		},
		{
			name: "redact and uncover same word",
			actions: []models.CartAction{
				targetAction(enums.ActionRedact, shared, "1.00"),
				targetAction(enums.ActionUncover, shared, "1.00"),
			},
			total:  "2.00",
			reason: "redacted and uncovered",
		},
		{
			name:    "missing word id",
			actions: []models.CartAction{{Type: enums.ActionRedact, Price: price("1.00")}},
			total:   "1.00",
			reason:  "requires a word_id",
		},
		{
			name:    "zero price",
			actions: []models.CartAction{writeAction("hi", "0")},
			total:   "0",
			reason:  "greater than zero",
		},
		{
			name:    "sub-cent price",
			actions: []models.CartAction{writeAction("hi", "1.001")},
			total:   "1.001",
			reason:  "two decimals",
		},
		{
			name:    "unknown type",
			actions: []models.CartAction{{Type: enums.ActionType("tip"), Price: price("1.00")}},
			total:   "1.00",
			reason:  "unknown action type",
		},
		{
			name:    "total mismatch",
			actions: []models.CartAction{writeAction("hi", "1.00")},
			total:   "0.75",
			reason:  "does not match",
		},
		{
			name:    "below minimum",
			actions: []models.CartAction{writeAction("hi", "0.25")},
			total:   "0.25",
			reason:  "below the minimum",
		},
	}

	v := NewValidator(price("0.50"), 0)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := v.Validate(tc.actions, price(tc.total))
			if err == nil {
				t.Fatal("expected rejection")
			}
			if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
				t.Fatalf("expected validation code, got %v", err)
			}
			if !strings.Contains(err.Error(), tc.reason) {
				t.Fatalf("expected reason %q in %q", tc.reason, err.Error())
			}
		})
	}
}

func TestValidatorAllowsRepeatedSameIntent(t *testing.T) {
	v := NewValidator(price("0.50"), 0)
	id := uuid.New()
	actions := []models.CartAction{
		targetAction(enums.ActionRedact, id, "1.00"),
		targetAction(enums.ActionRedact, id, "1.00"),
	}
	if err := v.Validate(actions, price("2.00")); err != nil {
		t.Fatalf("expected duplicate redacts to pass validation: %v", err)
	}
}

func TestValidatorMaxActions(t *testing.T) {
	v := NewValidator(decimal.Zero, 2)
	actions := []models.CartAction{
		writeAction("a", "1"),
		writeAction("b", "1"),
		writeAction("c", "1"),
	}
	err := v.Validate(actions, price("3"))
	if err == nil || !strings.Contains(err.Error(), "more than 2 actions") {
		t.Fatalf("expected max actions rejection, got %v", err)
	}
}
