// Package validate wraps go-playground/validator for request and authoring input.
package validate

import (
	"errors"
	"reflect"
	"slices"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"

	"github.com/pavelanni/tutorgate/internal/apperr"
	"github.com/pavelanni/tutorgate/internal/model"
)

var (
	v          *validator.Validate
	translator ut.Translator

	requiredTag  = "required"
	requiredText = "this field is required"
)

func init() {
	v = validator.New()

	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ = uni.GetTranslator("en")
	_ = en_translations.RegisterDefaultTranslations(v, translator)

	// Use JSON tag names for errors instead of Go struct names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = v.RegisterTranslation(requiredTag, translator,
		func(t ut.Translator) error { return t.Add(requiredTag, requiredText, true) },
		func(t ut.Translator, fe validator.FieldError) string {
			s, _ := t.T(requiredTag, fe.Field())
			return s
		},
	)

	v.RegisterStructValidation(questionRules, model.Question{})
}

// Struct validates s and returns an apperr validation error listing every failed field.
// reason is the message ID reported to the client.
func Struct(s any, reason string) error {
	err := v.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Wrap(apperr.ErrInvalidInput, err)
	}
	fields := make([]apperr.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, apperr.FieldError{Field: fieldPath(fe), Error: fe.Translate(translator)})
	}
	return apperr.Validation(reason, fields...)
}

// fieldPath drops the top-level struct name from the namespace: "NewExam.questions[0].points"
// becomes "questions[0].points".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

// questionRules checks the per-type constraints a tag cannot express.
func questionRules(sl validator.StructLevel) {
	q := sl.Current().Interface().(model.Question)
	switch q.Type {
	case model.MultipleChoice:
		if len(q.Options) == 0 {
			sl.ReportError(q.Options, "options", "Options", "required", "")
			return
		}
		if !slices.Contains(q.Options, q.CorrectAnswer) {
			sl.ReportError(q.CorrectAnswer, "correct_answer", "CorrectAnswer", "oneof", strings.Join(q.Options, " "))
		}
	case model.TrueFalse:
		allowed := q.Options
		if len(allowed) == 0 {
			allowed = []string{"true", "false"}
		}
		if !slices.Contains(allowed, q.CorrectAnswer) {
			sl.ReportError(q.CorrectAnswer, "correct_answer", "CorrectAnswer", "oneof", strings.Join(allowed, " "))
		}
	case model.ShortAnswer, model.Essay:
	default:
		if q.Type != "" {
			sl.ReportError(q.Type, "type", "Type", "oneof", "multiple_choice true_false short_answer essay")
		}
	}
}
