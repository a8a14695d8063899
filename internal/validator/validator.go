package validator

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	govalidator "github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

// qidPattern matches question IDs: database UUIDs as text or short slugs.
var qidPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// trans is the singleton English translator for validation errors.
var trans ut.Translator

// Setup registers JSON field naming, the custom tags and English translations
// on Gin's binding engine. Call once during application startup.
func Setup() error {
	v, ok := binding.Validator.Engine().(*govalidator.Validate)
	if !ok {
		return errors.New("binding engine is not go-playground/validator")
	}

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	enLocale := en.New()
	uni := ut.New(enLocale, enLocale)
	trans, _ = uni.GetTranslator("en")
	if err := en_translations.RegisterDefaultTranslations(v, trans); err != nil {
		return fmt.Errorf("register translations: %w", err)
	}

	// qid accepts "" so it composes with required_if.
	if err := v.RegisterValidation("qid", func(fl govalidator.FieldLevel) bool {
		s := fl.Field().String()
		return s == "" || qidPattern.MatchString(s)
	}); err != nil {
		return fmt.Errorf("register qid: %w", err)
	}
	err := v.RegisterTranslation("qid", trans,
		func(ut ut.Translator) error {
			return ut.Add("qid", "{0} must be a question ID", true)
		},
		func(ut ut.Translator, fe govalidator.FieldError) string {
			t, _ := ut.T("qid", fe.Field())
			return t
		},
	)
	if err != nil {
		return fmt.Errorf("register qid translation: %w", err)
	}
	return nil
}

// TranslateErrors turns a binding error into field → message. Nested fields
// are keyed by their path below the root, e.g. "answers[q1]". Anything that
// is not a validation error lands under "detail".
func TranslateErrors(err error) map[string]string {
	fields := make(map[string]string)

	var ve govalidator.ValidationErrors
	if errors.As(err, &ve) {
		for _, fe := range ve {
			fields[fieldPath(fe)] = translate(fe)
		}
		return fields
	}

	fields["detail"] = err.Error()
	return fields
}

func fieldPath(fe govalidator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return fe.Field()
}

func translate(fe govalidator.FieldError) string {
	if trans == nil {
		return fe.Error()
	}
	return fe.Translate(trans)
}

// Bind binds and validates the request body into dst.
// Returns nil on success or a translated field error map on failure.
func Bind(c *gin.Context, dst interface{}) map[string]string {
	if err := c.ShouldBindJSON(dst); err != nil {
		return TranslateErrors(err)
	}
	return nil
}

// Struct validates a value decoded outside Gin's binding, e.g. a WebSocket
// message, against its `binding` tags.
func Struct(v interface{}) map[string]string {
	if err := binding.Validator.ValidateStruct(v); err != nil {
		return TranslateErrors(err)
	}
	return nil
}
