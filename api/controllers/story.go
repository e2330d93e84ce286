package controllers

import (
	"context"
	"math"
	"net/http"

	"github.com/angelmondragon/storyline-backend/api/responses"
	"github.com/angelmondragon/storyline-backend/api/validators"
	"github.com/angelmondragon/storyline-backend/internal/ledger"
	"github.com/angelmondragon/storyline-backend/pkg/logger"
)

const maxStoryPage = 5000

type storyReader interface {
	Story(ctx context.Context, query ledger.StoryQuery) ([]ledger.StoryWord, error)
}

type storyResponse struct {
	Words []ledger.StoryWord `json:"words"`
	Next  int64              `json:"next_after"`
}

// Story returns the published story in position order. Clients poll with
// after set to the last position they hold.
func Story(svc storyReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		after, err := validators.ParseQueryInt(r, "after", 0, 0, math.MaxInt32)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", maxStoryPage, 1, maxStoryPage)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		words, err := svc.Story(ctx, ledger.StoryQuery{After: int64(after), Limit: limit})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if words == nil {
			words = []ledger.StoryWord{}
		}
		next := int64(after)
		if len(words) > 0 {
			next = words[len(words)-1].Position
		}
		responses.WriteSuccess(w, storyResponse{Words: words, Next: next})
	}
}
