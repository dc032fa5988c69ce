package review

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Clark-Hu/game-reviews/internal/domain"
	"github.com/Clark-Hu/game-reviews/internal/events"
	"github.com/Clark-Hu/game-reviews/internal/rating"
	"github.com/Clark-Hu/game-reviews/internal/repository"
	"github.com/Clark-Hu/game-reviews/internal/store/storetest"
)

type serviceEnv struct {
	*storetest.Env
	repo *repository.Repository
	svc  *Service
}

func newServiceEnv(t *testing.T, opts Options) *serviceEnv {
	t.Helper()
	env := storetest.Start(t)
	return &serviceEnv{
		Env:  env,
		repo: repository.New(env.Store),
		svc:  NewService(env.Store, rating.NewAggregator(nil), opts, nil),
	}
}

func (e *serviceEnv) game(t *testing.T, name string) domain.Game {
	t.Helper()
	g, err := e.repo.Games.Create(e.Ctx, repository.GameCreateParams{Name: name, ReleaseDate: time.Date(2019, 9, 1, 0, 0, 0, 0, time.UTC)})
	if err != nil {
		t.Fatalf("create game: %v", err)
	}
	return g
}

func (e *serviceEnv) average(t *testing.T, gameID string) decimal.NullDecimal {
	t.Helper()
	g, err := e.repo.Games.GetByID(e.Ctx, gameID)
	if err != nil {
		t.Fatalf("get game: %v", err)
	}
	return g.AverageRating
}

func (e *serviceEnv) create(t *testing.T, gameID, author string, s domain.Scores) domain.Review {
	t.Helper()
	r, err := e.svc.Create(e.Ctx, CreateParams{GameID: gameID, AuthorID: author, Scores: ScoresOf(s)})
	if err != nil {
		t.Fatalf("create review: %v", err)
	}
	return r
}

func uniform(v int) domain.Scores {
	return domain.Scores{Gameplay: v, Visual: v, Audio: v, Difficulty: v, Immersion: v, History: v}
}

func requireAverage(t *testing.T, got decimal.NullDecimal, want string) {
	t.Helper()
	if want == "" {
		if got.Valid {
			t.Fatalf("average = %s, want null", got.Decimal)
		}
		return
	}
	if !got.Valid || !got.Decimal.Equal(decimal.RequireFromString(want)) {
		t.Fatalf("average = %v, want %s", got, want)
	}
}

func TestServiceScenario(t *testing.T) {
	env := newServiceEnv(t, Options{})
	e1 := env.game(t, "E1")

	requireAverage(t, env.average(t, e1.ID), "")

	r1 := env.create(t, e1.ID, "U1", uniform(5))
	requireAverage(t, r1.Average, "5.00")
	requireAverage(t, env.average(t, e1.ID), "5.00")

	r2 := env.create(t, e1.ID, "U2", uniform(1))
	requireAverage(t, r2.Average, "1.00")
	requireAverage(t, env.average(t, e1.ID), "3.00")

	updated, err := env.svc.Update(env.Ctx, UpdateParams{ReviewID: r1.ID, AuthorID: "U1", Scores: ScoresOf(uniform(3))})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	requireAverage(t, updated.Average, "3.00")
	requireAverage(t, env.average(t, e1.ID), "2.00")

	if err := env.svc.Delete(env.Ctx, r2.ID, "U2"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	requireAverage(t, env.average(t, e1.ID), "3.00")
}

func TestServiceRoundTrip(t *testing.T) {
	env := newServiceEnv(t, Options{})
	g := env.game(t, "Round Trip")

	first := env.create(t, g.ID, "a", domain.Scores{Gameplay: 5, Visual: 4, Audio: 3, Difficulty: 2, Immersion: 1, History: 0})
	requireAverage(t, first.Average, "2.50")

	second := env.create(t, g.ID, "b", uniform(0))
	requireAverage(t, second.Average, "0.00")
	requireAverage(t, env.average(t, g.ID), "1.25")
}

func TestServiceRejectsInvalidScoresWithoutWriting(t *testing.T) {
	env := newServiceEnv(t, Options{})
	g := env.game(t, "Boundary")
	existing := env.create(t, g.ID, "a", uniform(2))

	bad := []struct {
		name  string
		value float64
	}{
		{"six", 6},
		{"minus one", -1},
		{"five and a half", 5.5},
	}
	for _, tt := range bad {
		t.Run(tt.name, func(t *testing.T) {
			in := ScoresOf(uniform(3))
			in.Visual = fptr(tt.value)

			_, err := env.svc.Create(env.Ctx, CreateParams{GameID: g.ID, AuthorID: "b", Scores: in})
			if !errors.Is(err, domain.ErrInvalid) {
				t.Fatalf("Create error = %v, want ValidationError", err)
			}
			_, err = env.svc.Update(env.Ctx, UpdateParams{ReviewID: existing.ID, AuthorID: "a", Scores: in})
			if !errors.Is(err, domain.ErrInvalid) {
				t.Fatalf("Update error = %v, want ValidationError", err)
			}

			reviews, err := env.repo.Reviews.ListByGame(env.Ctx, g.ID)
			if err != nil {
				t.Fatalf("ListByGame: %v", err)
			}
			if len(reviews) != 1 || reviews[0].Scores != uniform(2) {
				t.Fatalf("reviews changed: %+v", reviews)
			}
			requireAverage(t, env.average(t, g.ID), "2.00")
		})
	}
}

func TestServiceDeleteOnlyReviewLeavesNull(t *testing.T) {
	env := newServiceEnv(t, Options{})
	g := env.game(t, "Lonely")
	r := env.create(t, g.ID, "a", uniform(0))
	requireAverage(t, env.average(t, g.ID), "0.00")

	if err := env.svc.Delete(env.Ctx, r.ID, "a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	requireAverage(t, env.average(t, g.ID), "")
}

func TestServiceAuthorization(t *testing.T) {
	env := newServiceEnv(t, Options{})
	g := env.game(t, "Owned")
	r := env.create(t, g.ID, "owner", uniform(4))

	_, err := env.svc.Update(env.Ctx, UpdateParams{ReviewID: r.ID, AuthorID: "intruder", Scores: ScoresOf(uniform(0))})
	var ae *domain.AuthorizationError
	if !errors.As(err, &ae) || ae.Action != "update" {
		t.Fatalf("Update by non-author error = %v, want AuthorizationError", err)
	}
	if err := env.svc.Delete(env.Ctx, r.ID, "intruder"); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("Delete by non-author error = %v, want AuthorizationError", err)
	}
	if err := env.svc.Delete(env.Ctx, r.ID, ""); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("Delete without author error = %v, want AuthorizationError", err)
	}

	got, err := env.svc.Get(env.Ctx, r.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Scores != uniform(4) {
		t.Fatalf("review changed: %+v", got.Scores)
	}
	requireAverage(t, env.average(t, g.ID), "4.00")
}

func TestServiceNotFound(t *testing.T) {
	env := newServiceEnv(t, Options{})

	for _, gameID := range []string{uuid.NewString(), "not-a-uuid"} {
		_, err := env.svc.Create(env.Ctx, CreateParams{GameID: gameID, AuthorID: "a", Scores: ScoresOf(uniform(1))})
		var nf *domain.NotFoundError
		if !errors.As(err, &nf) || nf.Resource != "game" {
			t.Fatalf("Create on %q error = %v, want game NotFoundError", gameID, err)
		}
	}

	missing := uuid.NewString()
	if _, err := env.svc.Update(env.Ctx, UpdateParams{ReviewID: missing, AuthorID: "a", Scores: ScoresOf(uniform(1))}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Update missing error = %v", err)
	}
	if err := env.svc.Delete(env.Ctx, missing, "a"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Delete missing error = %v", err)
	}
	if _, err := env.svc.Get(env.Ctx, missing); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Get missing error = %v", err)
	}
}

type failingRefresher struct{}

func (failingRefresher) Refresh(context.Context, rating.RecordReader, rating.AggregateWriter, string) (decimal.NullDecimal, error) {
	return decimal.NullDecimal{}, &domain.StorageError{Op: "write aggregate", Err: errors.New("serialization failure")}
}

func TestServiceRefreshFailureRollsBackRecord(t *testing.T) {
	env := newServiceEnv(t, Options{})
	g := env.game(t, "Atomic")
	r := env.create(t, g.ID, "a", uniform(5))

	broken := NewService(env.Store, failingRefresher{}, Options{}, nil)

	if _, err := broken.Create(env.Ctx, CreateParams{GameID: g.ID, AuthorID: "b", Scores: ScoresOf(uniform(1))}); !errors.Is(err, domain.ErrStorage) {
		t.Fatalf("Create error = %v, want StorageError", err)
	}
	if _, err := broken.Update(env.Ctx, UpdateParams{ReviewID: r.ID, AuthorID: "a", Scores: ScoresOf(uniform(0))}); !errors.Is(err, domain.ErrStorage) {
		t.Fatalf("Update error = %v, want StorageError", err)
	}
	if err := broken.Delete(env.Ctx, r.ID, "a"); !errors.Is(err, domain.ErrStorage) {
		t.Fatalf("Delete error = %v, want StorageError", err)
	}

	reviews, err := env.repo.Reviews.ListByGame(env.Ctx, g.ID)
	if err != nil {
		t.Fatalf("ListByGame: %v", err)
	}
	if len(reviews) != 1 || reviews[0].Scores != uniform(5) {
		t.Fatalf("failed mutations leaked: %+v", reviews)
	}
	requireAverage(t, env.average(t, g.ID), "5.00")
}

// expectedAverage recomputes the aggregate independently from the stored rows.
func expectedAverage(t *testing.T, env *serviceEnv, gameID string) decimal.NullDecimal {
	t.Helper()
	reviews, err := env.repo.Reviews.ListByGame(env.Ctx, gameID)
	if err != nil {
		t.Fatalf("ListByGame: %v", err)
	}
	if len(reviews) == 0 {
		return decimal.NullDecimal{}
	}
	sum := decimal.Zero
	for _, r := range reviews {
		sum = sum.Add(r.Scores.Average())
	}
	return decimal.NewNullDecimal(sum.Div(decimal.NewFromInt(int64(len(reviews)))).Round(2))
}

func requireInvariant(t *testing.T, env *serviceEnv, gameID string) {
	t.Helper()
	want := expectedAverage(t, env, gameID)
	got := env.average(t, gameID)
	if got.Valid != want.Valid || (want.Valid && !got.Decimal.Equal(want.Decimal)) {
		t.Fatalf("game %s aggregate = %v, want %v", gameID, got, want)
	}
}

func TestServiceInvariantUnderRandomOperations(t *testing.T) {
	env := newServiceEnv(t, Options{})
	games := []domain.Game{env.game(t, "R1"), env.game(t, "R2")}
	authors := []string{"u1", "u2", "u3"}
	rnd := rand.New(rand.NewSource(42))

	type owned struct{ id, author, game string }
	live := make([]owned, 0)
	randomScores := func() domain.Scores {
		return domain.Scores{
			Gameplay: rnd.Intn(6), Visual: rnd.Intn(6), Audio: rnd.Intn(6),
			Difficulty: rnd.Intn(6), Immersion: rnd.Intn(6), History: rnd.Intn(6),
		}
	}

	for i := 0; i < 120; i++ {
		switch op := rnd.Intn(3); {
		case op == 0 || len(live) == 0:
			g := games[rnd.Intn(len(games))]
			author := authors[rnd.Intn(len(authors))]
			r := env.create(t, g.ID, author, randomScores())
			live = append(live, owned{r.ID, author, g.ID})
		case op == 1:
			o := live[rnd.Intn(len(live))]
			if _, err := env.svc.Update(env.Ctx, UpdateParams{ReviewID: o.id, AuthorID: o.author, Scores: ScoresOf(randomScores())}); err != nil {
				t.Fatalf("op %d update: %v", i, err)
			}
		default:
			idx := rnd.Intn(len(live))
			o := live[idx]
			if err := env.svc.Delete(env.Ctx, o.id, o.author); err != nil {
				t.Fatalf("op %d delete: %v", i, err)
			}
			live = append(live[:idx], live[idx+1:]...)
		}
		for _, g := range games {
			requireInvariant(t, env, g.ID)
		}
	}
}

func TestServiceConcurrentMutationsSameGame(t *testing.T) {
	env := newServiceEnv(t, Options{})
	hot := env.game(t, "Hot")
	cold := env.game(t, "Cold")

	const workers = 12
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			author := fmt.Sprintf("w%d", w)
			target := hot.ID
			if w%4 == 0 {
				target = cold.ID
			}
			r, err := env.svc.Create(env.Ctx, CreateParams{GameID: target, AuthorID: author, Scores: ScoresOf(uniform(w % 6))})
			if err != nil {
				t.Errorf("create %s: %v", author, err)
				return
			}
			if _, err := env.svc.Update(env.Ctx, UpdateParams{ReviewID: r.ID, AuthorID: author, Scores: ScoresOf(uniform((w + 3) % 6))}); err != nil {
				t.Errorf("update %s: %v", author, err)
				return
			}
			if w%3 == 0 {
				if err := env.svc.Delete(env.Ctx, r.ID, author); err != nil {
					t.Errorf("delete %s: %v", author, err)
				}
			}
		}(w)
	}
	wg.Wait()

	requireInvariant(t, env, hot.ID)
	requireInvariant(t, env, cold.ID)
}

func TestServiceOneReviewPerAuthorPolicy(t *testing.T) {
	env := newServiceEnv(t, Options{OneReviewPerAuthor: true})
	g := env.game(t, "Strict")
	other := env.game(t, "Other")

	env.create(t, g.ID, "a", uniform(3))
	_, err := env.svc.Create(env.Ctx, CreateParams{GameID: g.ID, AuthorID: "a", Scores: ScoresOf(uniform(4))})
	var ve *domain.ValidationError
	if !errors.As(err, &ve) || ve.Fields[0].Field != "gameId" {
		t.Fatalf("duplicate review error = %v, want ValidationError on gameId", err)
	}
	env.create(t, other.ID, "a", uniform(4))
	env.create(t, g.ID, "b", uniform(4))
	requireAverage(t, env.average(t, g.ID), "3.50")

	// Without the policy duplicates are counted separately.
	loose := NewService(env.Store, rating.NewAggregator(nil), Options{}, nil)
	if _, err := loose.Create(env.Ctx, CreateParams{GameID: g.ID, AuthorID: "a", Scores: ScoresOf(uniform(5))}); err != nil {
		t.Fatalf("duplicate without policy: %v", err)
	}
	requireAverage(t, env.average(t, g.ID), "4.00")
}

func TestServiceWritesOutboxEvents(t *testing.T) {
	now := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	env := newServiceEnv(t, Options{PublishEvents: true, Now: func() time.Time { return now }})
	g := env.game(t, "Evented")

	r := env.create(t, g.ID, "a", uniform(2))
	if _, err := env.svc.Update(env.Ctx, UpdateParams{ReviewID: r.ID, AuthorID: "a", Scores: ScoresOf(uniform(4))}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := env.svc.Delete(env.Ctx, r.ID, "a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	// A rejected mutation writes nothing.
	_ = env.svc.Delete(env.Ctx, r.ID, "a")

	rows, err := env.Pool.Query(env.Ctx, `SELECT subject, payload FROM review_outbox ORDER BY created_at, subject`)
	if err != nil {
		t.Fatalf("query outbox: %v", err)
	}
	defer rows.Close()
	got := map[string]events.ReviewEvent{}
	for rows.Next() {
		var subject string
		var payload []byte
		if err := rows.Scan(&subject, &payload); err != nil {
			t.Fatalf("scan: %v", err)
		}
		var evt events.ReviewEvent
		if err := json.Unmarshal(payload, &evt); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		got[subject] = evt
	}
	if len(got) != 3 {
		t.Fatalf("outbox subjects = %v, want 3", got)
	}
	if a := got[events.SubjectReviewUpdated].GameAverage; a == nil || *a != "4.00" {
		t.Fatalf("updated event game average = %v, want 4.00", a)
	}
	if got[events.SubjectReviewDeleted].GameAverage != nil {
		t.Fatalf("deleted event should carry a null game average")
	}
	if !got[events.SubjectReviewCreated].OccurredAt.Equal(now) {
		t.Fatalf("occurredAt = %s", got[events.SubjectReviewCreated].OccurredAt)
	}

	quiet := NewService(env.Store, rating.NewAggregator(nil), Options{}, nil)
	before, err := env.repo.Outbox.CountPending(env.Ctx)
	if err != nil {
		t.Fatalf("CountPending: %v", err)
	}
	if _, err := quiet.Create(env.Ctx, CreateParams{GameID: g.ID, AuthorID: "b", Scores: ScoresOf(uniform(1))}); err != nil {
		t.Fatalf("Create without events: %v", err)
	}
	if after, err := env.repo.Outbox.CountPending(env.Ctx); err != nil || after != before {
		t.Fatalf("outbox rows without events enabled = %d (before %d), %v", after, before, err)
	}
}

func TestServiceListings(t *testing.T) {
	env := newServiceEnv(t, Options{})
	g := env.game(t, "Listed")
	other := env.game(t, "Unlisted")
	env.create(t, g.ID, "a", uniform(1))
	env.create(t, g.ID, "b", uniform(2))
	env.create(t, other.ID, "a", uniform(3))

	byGame, err := env.svc.ListByGame(env.Ctx, g.ID)
	if err != nil || len(byGame) != 2 {
		t.Fatalf("ListByGame = %d, %v", len(byGame), err)
	}
	byAuthor, err := env.svc.ListByAuthor(env.Ctx, "a")
	if err != nil || len(byAuthor) != 2 {
		t.Fatalf("ListByAuthor = %d, %v", len(byAuthor), err)
	}
	none, err := env.svc.ListByAuthor(env.Ctx, "nobody")
	if err != nil || none == nil || len(none) != 0 {
		t.Fatalf("ListByAuthor(nobody) = %v, %v; want empty non-nil", none, err)
	}
}
