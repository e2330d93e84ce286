package checkout

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/storyline-backend/pkg/db/models"
	"github.com/angelmondragon/storyline-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storyline-backend/pkg/errors"
	"github.com/angelmondragon/storyline-backend/pkg/wordcheck"
)

const defaultMaxActions = 50

// Validator decides whether a batch of paid actions may proceed to payment.
type Validator struct {
	minimum    decimal.Decimal
	maxActions int
}

// NewValidator builds a validator enforcing the processor minimum charge.
func NewValidator(minimum decimal.Decimal, maxActions int) *Validator {
	if maxActions <= 0 {
		maxActions = defaultMaxActions
	}
	return &Validator{minimum: minimum, maxActions: maxActions}
}

// Validate accepts the batch or returns a single CodeValidation error naming the reason.
// The batch is rejected as a whole.
func (v *Validator) Validate(actions []models.CartAction, total decimal.Decimal) error {
	if len(actions) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "checkout must contain at least one action")
	}
	if len(actions) > v.maxActions {
		return pkgerrors.Newf(pkgerrors.CodeValidation, "checkout cannot contain more than %d actions", v.maxActions)
	}

	sum := decimal.Zero
	intents := map[uuid.UUID]enums.ActionType{}
	for i, action := range actions {
		if err := validateAction(i, action); err != nil {
			return err
		}
		sum = sum.Add(action.Price)

		if !action.Type.TargetsWord() {
			continue
		}
		wordID := *action.WordID
		if previous, ok := intents[wordID]; ok && previous != action.Type {
			return pkgerrors.Newf(pkgerrors.CodeValidation, "word %s cannot be redacted and uncovered in the same checkout", wordID)
		}
		intents[wordID] = action.Type
	}

	if !sum.Equal(total) {
		return pkgerrors.Newf(pkgerrors.CodeValidation, "total %s does not match the sum of action prices %s", total.StringFixed(2), sum.StringFixed(2))
	}
	if sum.LessThan(v.minimum) {
		return pkgerrors.Newf(pkgerrors.CodeValidation, "total %s is below the minimum charge of %s", sum.StringFixed(2), v.minimum.StringFixed(2))
	}
	return nil
}

func validateAction(index int, action models.CartAction) error {
	if !action.Price.IsPositive() {
		return pkgerrors.Newf(pkgerrors.CodeValidation, "action %d: price must be greater than zero", index)
	}
	if !action.Price.Equal(action.Price.Round(2)) {
		return pkgerrors.Newf(pkgerrors.CodeValidation, "action %d: price cannot have more than two decimals", index)
	}

	switch action.Type {
	case enums.ActionWrite:
		if action.Content == nil {
			return pkgerrors.Newf(pkgerrors.CodeValidation, "action %d: write requires content", index)
		}
		if err := wordcheck.Validate(*action.Content); err != nil {
			if typed := pkgerrors.As(err); typed != nil {
				return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("action %d: %s", index, typed.Message())).WithDetails(typed.Details())
			}
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, fmt.Sprintf("action %d: invalid content", index))
		}
	case enums.ActionRedact, enums.ActionUncover:
		if action.WordID == nil || *action.WordID == uuid.Nil {
			return pkgerrors.Newf(pkgerrors.CodeValidation, "action %d: %s requires a word_id", index, action.Type)
		}
	default:
		return pkgerrors.Newf(pkgerrors.CodeValidation, "action %d: unknown action type %q", index, action.Type)
	}
	return nil
}
