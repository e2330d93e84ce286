package admin

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/storyline-backend/internal/ledger"
	"github.com/angelmondragon/storyline-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/storyline-backend/pkg/errors"
)

// Action names accepted by the administrative endpoint.
const (
	ActionRedact    = "redact"
	ActionUncover   = "uncover"
	ActionHide      = "hide"
	ActionRemove    = "remove"
	ActionRestore   = "restore"
	ActionProtect   = "protect"
	ActionUnprotect = "unprotect"
	ActionFlag      = "flag"
	ActionUnflag    = "unflag"
	ActionEdit      = "edit"
	ActionInsert    = "insert"
	ActionLinebreak = "linebreak"
	ActionReorder   = "reorder"
	ActionDelete    = "delete"
)

// ActionRequest is one multiplexed administrative command.
type ActionRequest struct {
	Action      string     `json:"action" validate:"required"`
	WordID      *uuid.UUID `json:"word_id,omitempty"`
	Content     *string    `json:"content,omitempty"`
	Position    *int64     `json:"position,omitempty"`
	NewPosition *int64     `json:"new_position,omitempty"`
}

// ActionResult reports the outcome of one command. Applied is false when a
// line break was refused by the spacing rule.
type ActionResult struct {
	Action  string             `json:"action"`
	Applied bool               `json:"applied"`
	Word    *models.Word       `json:"word,omitempty"`
	Flag    *ledger.FlagResult `json:"flag,omitempty"`
}

type ledgerAdmin interface {
	Redact(ctx context.Context, id uuid.UUID, actor ledger.Actor) (*models.Word, error)
	Uncover(ctx context.Context, id uuid.UUID, actor ledger.Actor) (*models.Word, error)
	Hide(ctx context.Context, id uuid.UUID) (*models.Word, error)
	Remove(ctx context.Context, id uuid.UUID) (*models.Word, error)
	Restore(ctx context.Context, id uuid.UUID) (*models.Word, error)
	Protect(ctx context.Context, id uuid.UUID) (*models.Word, error)
	Unprotect(ctx context.Context, id uuid.UUID) (*models.Word, error)
	AdminFlag(ctx context.Context, id uuid.UUID) (*ledger.FlagResult, error)
	AdminUnflag(ctx context.Context, id uuid.UUID) (*ledger.FlagResult, error)
	Edit(ctx context.Context, id uuid.UUID, content string) (*models.Word, error)
	Insert(ctx context.Context, input ledger.InsertInput) (*models.Word, error)
	InsertLinebreak(ctx context.Context, position int64) (*models.Word, error)
	Reorder(ctx context.Context, id uuid.UUID, newPosition int64) (*models.Word, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// Dispatcher routes administrative commands to the ledger.
type Dispatcher struct {
	ledger ledgerAdmin
}

func NewDispatcher(l ledgerAdmin) (*Dispatcher, error) {
	if l == nil {
		return nil, fmt.Errorf("ledger required")
	}
	return &Dispatcher{ledger: l}, nil
}

type wordOp func(ctx context.Context, id uuid.UUID) (*models.Word, error)

// Execute runs req against the ledger.
func (d *Dispatcher) Execute(ctx context.Context, req ActionRequest) (*ActionResult, error) {
	result := &ActionResult{Action: req.Action}

	wordOps := map[string]wordOp{
		ActionRedact: func(ctx context.Context, id uuid.UUID) (*models.Word, error) {
			return d.ledger.Redact(ctx, id, ledger.ActorAdmin)
		},
		ActionUncover: func(ctx context.Context, id uuid.UUID) (*models.Word, error) {
			return d.ledger.Uncover(ctx, id, ledger.ActorAdmin)
		},
		ActionHide:      d.ledger.Hide,
		ActionRemove:    d.ledger.Remove,
		ActionRestore:   d.ledger.Restore,
		ActionProtect:   d.ledger.Protect,
		ActionUnprotect: d.ledger.Unprotect,
	}
	if op, ok := wordOps[req.Action]; ok {
		id, err := requireWordID(req)
		if err != nil {
			return nil, err
		}
		word, err := op(ctx, id)
		if err != nil {
			return nil, err
		}
		result.Word, result.Applied = word, true
		return result, nil
	}

	switch req.Action {
	case ActionFlag, ActionUnflag:
		id, err := requireWordID(req)
		if err != nil {
			return nil, err
		}
		var flag *ledger.FlagResult
		if req.Action == ActionFlag {
			flag, err = d.ledger.AdminFlag(ctx, id)
		} else {
			flag, err = d.ledger.AdminUnflag(ctx, id)
		}
		if err != nil {
			return nil, err
		}
		result.Flag, result.Applied = flag, true
	case ActionEdit:
		id, err := requireWordID(req)
		if err != nil {
			return nil, err
		}
		if req.Content == nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "content is required")
		}
		word, err := d.ledger.Edit(ctx, id, *req.Content)
		if err != nil {
			return nil, err
		}
		result.Word, result.Applied = word, true
	case ActionInsert:
		if req.Content == nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "content is required")
		}
		word, err := d.ledger.Insert(ctx, ledger.InsertInput{Content: *req.Content, Position: req.Position})
		if err != nil {
			return nil, err
		}
		result.Word, result.Applied = word, true
	case ActionLinebreak:
		if req.Position == nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "position is required")
		}
		word, err := d.ledger.InsertLinebreak(ctx, *req.Position)
		if err != nil {
			return nil, err
		}
		result.Word, result.Applied = word, word != nil
	case ActionReorder:
		id, err := requireWordID(req)
		if err != nil {
			return nil, err
		}
		if req.NewPosition == nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "new_position is required")
		}
		word, err := d.ledger.Reorder(ctx, id, *req.NewPosition)
		if err != nil {
			return nil, err
		}
		result.Word, result.Applied = word, true
	case ActionDelete:
		id, err := requireWordID(req)
		if err != nil {
			return nil, err
		}
		if err := d.ledger.Delete(ctx, id); err != nil {
			return nil, err
		}
		result.Applied = true
	default:
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "unknown admin action %q", req.Action)
	}
	return result, nil
}

func requireWordID(req ActionRequest) (uuid.UUID, error) {
	if req.WordID == nil || *req.WordID == uuid.Nil {
		return uuid.Nil, pkgerrors.Newf(pkgerrors.CodeValidation, "word_id is required for %s", req.Action)
	}
	return *req.WordID, nil
}
