package analysis

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"reviewpulse/internal/review"
)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"

	DefaultProvider = ProviderOpenAI
)

// Request is the body of every analysis endpoint.
type Request struct {
	Reviews  []review.Review `json:"reviews" validate:"required,min=1"`
	Platform string          `json:"platform" validate:"omitempty,oneof=android ios"`
	Provider string          `json:"provider"`
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func requestValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// Normalize fills defaults and validates the request. The returned error is
// meant for the caller and names the offending field.
func (r *Request) Normalize() error {
	r.Provider = strings.ToLower(strings.TrimSpace(r.Provider))
	if r.Provider == "" {
		r.Provider = DefaultProvider
	}
	r.Platform = strings.ToLower(strings.TrimSpace(r.Platform))

	err := requestValidator().Struct(r)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required", "min":
		return fmt.Errorf("%s must be a non-empty array", fe.Field())
	case "oneof":
		return fmt.Errorf("%s must be one of: %s", fe.Field(), fe.Param())
	default:
		return fmt.Errorf("%s is invalid", fe.Field())
	}
}
