package service

import (
	"errors"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/sakif/pharmacy-session/internal/apperror"
	"github.com/sakif/pharmacy-session/internal/sanitize"
)

var usernamePattern = regexp.MustCompile(`^[a-z0-9_.]{3,30}$`)

// newValidator returns a validator that reports JSON field names and knows the
// profile-specific tags.
func newValidator() *validator.Validate {
	v := validator.New()

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	v.RegisterAlias("phone", "e164")

	// Registration only fails for an empty tag or nil func.
	_ = v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return usernamePattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("picture", func(fl validator.FieldLevel) bool {
		return sanitize.PictureURL(fl.Field().String(), "") != ""
	})

	return v
}

// validationError turns the first failing field into an apperror.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	return apperror.ValidationFailed(fe.Field(), fe.Field()+" "+fieldMessage(fe))
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email"
	case "min":
		return "must be at least " + fe.Param() + " characters long"
	case "max":
		return "must be at most " + fe.Param() + " characters long"
	case "phone", "e164":
		return "must be a valid phone number"
	case "username":
		return "must be 3-30 characters of lowercase letters, digits, '_' or '.'"
	case "picture":
		return "must be an http(s) URL or an uploaded image path"
	case "oneof":
		return "must be one of: " + strings.Join(strings.Fields(fe.Param()), ", ")
	default:
		return "is invalid"
	}
}
