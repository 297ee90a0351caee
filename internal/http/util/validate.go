package util

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

var (
	validate     *validator.Validate
	translator   ut.Translator
	validateOnce sync.Once
)

// GetValidator returns the shared validator and its English translator.
// Field names in messages come from the json tag.
func GetValidator() (*validator.Validate, ut.Translator) {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "" || name == "-" {
				return fld.Name
			}
			return name
		})

		locale := en.New()
		uni := ut.New(locale, locale)
		translator, _ = uni.GetTranslator("en")
		_ = en_translations.RegisterDefaultTranslations(validate, translator)
	})
	return validate, translator
}

// ValidateStruct checks s against its validate tags. The returned message
// joins every translated field error.
func ValidateStruct(s interface{}) (string, error) {
	v, trans := GetValidator()
	err := v.Struct(s)
	if err == nil {
		return "", nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error(), err
	}

	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		msgs = append(msgs, e.Translate(trans))
	}
	return strings.Join(msgs, "; "), err
}
