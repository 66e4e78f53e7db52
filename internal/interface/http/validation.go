package http

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"

	"github.com/lifequest/lifequest-hub/internal/domain/content"
	"github.com/lifequest/lifequest-hub/internal/domain/shared"
)

// custom validation tags
const (
	collectionTag   = "collection"
	recordActionTag = "record_action"
)

// requestValidator pairs the validator with its english translator.
type requestValidator struct {
	validate   *validator.Validate
	translator ut.Translator
}

func newValidator() *requestValidator {
	v := validator.New()

	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	_ = en_translations.RegisterDefaultTranslations(v, translator)

	// Use JSON tag names for errors instead of Go struct names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = v.RegisterValidation(collectionTag, func(fl validator.FieldLevel) bool {
		return content.IsKnownCollection(fl.Field().String())
	})
	_ = v.RegisterValidation(recordActionTag, func(fl validator.FieldLevel) bool {
		_, ok := shared.RecordActionEventType(fl.Field().String())
		return ok
	})

	// The default translations are already registered, so a noop register
	// func is enough for the custom tags.
	noop := func(ut.Translator) error { return nil }
	for _, tag := range []string{collectionTag, recordActionTag} {
		_ = v.RegisterTranslation(tag, translator, noop, translateCustom)
	}

	return &requestValidator{validate: v, translator: translator}
}

func translateCustom(_ ut.Translator, fe validator.FieldError) string {
	switch fe.Tag() {
	case collectionTag:
		return "unknown collection"
	case recordActionTag:
		return "action must be one of created, updated, archived, deleted"
	default:
		return ""
	}
}

// validationErrors validates v and returns the failed fields keyed by their
// JSON names, or nil when v is valid.
func (s *Server) validationErrors(v any) map[string]string {
	err := s.validate.validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return map[string]string{"_": err.Error()}
	}

	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Translate(s.validate.translator)
	}
	return fields
}
