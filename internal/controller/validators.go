package controller

import (
	"regexp"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// Currency codes are short alphabetic identifiers ("USDT", "Toman"); the
// proposal whitelist is enforced downstream, this only rejects garbage at
// the binding layer.
var currencyPattern = regexp.MustCompile(`^[A-Za-z]{2,10}$`)

func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterValidation("currency", func(fl validator.FieldLevel) bool {
			return currencyPattern.MatchString(fl.Field().String())
		})
	}
}
