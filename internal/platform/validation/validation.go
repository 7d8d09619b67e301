// Package validation plugs go-playground/validator into echo and registers
// the billing-specific field rules.
package validation

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

var (
	npiPattern       = regexp.MustCompile(`^\d{10}$`)
	procedurePattern = regexp.MustCompile(`^[A-Z0-9]{5}$`)
	modifierPattern  = regexp.MustCompile(`^[A-Z0-9]{2}$`)
)

// Validator implements echo.Validator.
type Validator struct {
	v *validator.Validate
}

// New creates a Validator with the npi, procedure_code and modifier rules.
func New() *Validator {
	v := validator.New()
	v.RegisterValidation("npi", matches(npiPattern))
	v.RegisterValidation("procedure_code", matches(procedurePattern))
	v.RegisterValidation("modifier", matches(modifierPattern))
	return &Validator{v: v}
}

func matches(re *regexp.Regexp) validator.Func {
	return func(fl validator.FieldLevel) bool {
		return re.MatchString(fl.Field().String())
	}
}

// Validate implements echo.Validator. Failures come back as a 400 listing
// each offending field.
func (cv *Validator) Validate(i interface{}) error {
	err := cv.v.Struct(i)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	msgs := make([]string, len(verrs))
	for i, fe := range verrs {
		msgs[i] = fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag())
	}
	return echo.NewHTTPError(http.StatusBadRequest, strings.Join(msgs, "; "))
}
