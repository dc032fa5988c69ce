package review

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/Clark-Hu/game-reviews/internal/domain"
)

// MaxCommentLength bounds the free-text comment, in characters.
const MaxCommentLength = 2000

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		_ = validate.RegisterValidation("wholenumber", func(fl validator.FieldLevel) bool {
			f := fl.Field().Float()
			return f == math.Trunc(f)
		})
	})
	return validate
}

// ScoreInput carries the six sub-scores as submitted, before they are known
// to be integers in range.
type ScoreInput struct {
	Gameplay   *float64 `json:"gameplayRating" validate:"required,wholenumber,min=0,max=5"`
	Visual     *float64 `json:"visualRating" validate:"required,wholenumber,min=0,max=5"`
	Audio      *float64 `json:"audioRating" validate:"required,wholenumber,min=0,max=5"`
	Difficulty *float64 `json:"difficultyRating" validate:"required,wholenumber,min=0,max=5"`
	Immersion  *float64 `json:"immersionRating" validate:"required,wholenumber,min=0,max=5"`
	History    *float64 `json:"historyRating" validate:"required,wholenumber,min=0,max=5"`
}

// ScoresOf wraps already-typed scores as input.
func ScoresOf(s domain.Scores) ScoreInput {
	f := func(v int) *float64 {
		x := float64(v)
		return &x
	}
	return ScoreInput{
		Gameplay:   f(s.Gameplay),
		Visual:     f(s.Visual),
		Audio:      f(s.Audio),
		Difficulty: f(s.Difficulty),
		Immersion:  f(s.Immersion),
		History:    f(s.History),
	}
}

type submission struct {
	ScoreInput
	Comment *string `json:"comment" validate:"omitempty,max=2000"`
}

// validateSubmission checks every field and reports all failures at once.
func validateSubmission(in ScoreInput, comment *string) (domain.Scores, error) {
	err := getValidator().Struct(submission{ScoreInput: in, Comment: comment})
	if err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return domain.Scores{}, err
		}
		fields := make([]domain.FieldError, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, domain.FieldError{Field: fe.Field(), Message: fieldMessage(fe)})
		}
		return domain.Scores{}, &domain.ValidationError{Fields: fields}
	}

	scores := domain.Scores{
		Gameplay:   int(*in.Gameplay),
		Visual:     int(*in.Visual),
		Audio:      int(*in.Audio),
		Difficulty: int(*in.Difficulty),
		Immersion:  int(*in.Immersion),
		History:    int(*in.History),
	}
	// Typed scores carry their own range tags.
	if err := getValidator().Struct(scores); err != nil {
		return domain.Scores{}, &domain.ValidationError{Fields: []domain.FieldError{{Field: "scores", Message: err.Error()}}}
	}
	return scores, nil
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "wholenumber":
		return "must be an integer"
	case "min", "max":
		if fe.Field() == "comment" {
			return fmt.Sprintf("must be at most %d characters", MaxCommentLength)
		}
		return fmt.Sprintf("must be between %d and %d", domain.MinScore, domain.MaxScore)
	default:
		return "is invalid"
	}
}
