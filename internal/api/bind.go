package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"

	perr "github.com/ppiankov/verity/internal/errors"
	"github.com/ppiankov/verity/internal/logger"
)

// maxBodyBytes bounds request bodies
const maxBodyBytes = 1 << 20

type validatorSvc struct {
	validate *validator.Validate
	trans    ut.Translator
}

var (
	vOnce sync.Once
	vSvc  *validatorSvc
)

// validation returns the singleton validator with english translations and json tag names
func validation() *validatorSvc {
	vOnce.Do(func() {
		enLoc := en.New()
		uni := ut.New(enLoc, enLoc)
		trans, _ := uni.GetTranslator("en")

		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			tag := fld.Tag.Get("json")
			if tag == "-" || tag == "" {
				return fld.Name
			}
			if idx := strings.Index(tag, ","); idx >= 0 {
				tag = tag[:idx]
			}
			return tag
		})
		_ = en_translations.RegisterDefaultTranslations(v, trans)

		_ = v.RegisterTranslation("min", trans,
			func(ut ut.Translator) error {
				return ut.Add("min", "{0} must be at least {1}", true)
			},
			func(ut ut.Translator, fe validator.FieldError) string {
				msg, _ := ut.T("min", fe.Field(), fe.Param())
				return msg
			},
		)
		_ = v.RegisterTranslation("max", trans,
			func(ut ut.Translator) error {
				return ut.Add("max", "{0} must be at most {1}", true)
			},
			func(ut ut.Translator, fe validator.FieldError) string {
				msg, _ := ut.T("max", fe.Field(), fe.Param())
				return msg
			},
		)

		vSvc = &validatorSvc{validate: v, trans: trans}
	})
	return vSvc
}

// ParseJSON decodes a bounded JSON body into T and validates it
func ParseJSON[T any](r *http.Request) (T, error) {
	var zero T
	defer func() {
		if err := r.Body.Close(); err != nil {
			logger.C(r.Context()).Debug().Err(err).Msg("failed to close request body")
		}
	}()

	buf := make([]byte, 1)
	n, _ := r.Body.Read(buf)
	if n == 0 {
		return zero, perr.JSONErrf("empty body")
	}
	reader := io.LimitReader(io.MultiReader(bytes.NewReader(buf[:n]), r.Body), maxBodyBytes)

	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()

	var dst T
	if err := dec.Decode(&dst); err != nil {
		return zero, perr.JSONErrf("invalid JSON: %v", err)
	}
	if dec.More() {
		return zero, perr.JSONErrf("unexpected trailing data")
	}

	if err := validation().validate.Struct(dst); err != nil {
		var inv *validator.InvalidValidationError
		if errors.As(err, &inv) {
			logger.C(r.Context()).Error().Err(inv).Msg("validator internal error")
			return zero, perr.JSONErrf("validation error")
		}
		field, msg := fieldAndMessage(err)
		return zero, perr.WithField(perr.Validationf("%s", msg), field)
	}
	return dst, nil
}

// fieldAndMessage returns the first failing field and its translated message
func fieldAndMessage(err error) (field, message string) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			return fe.Field(), fe.Translate(validation().trans)
		}
	}
	return "", err.Error()
}
