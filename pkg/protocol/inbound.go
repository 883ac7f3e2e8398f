package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/park285/cheese-relay/internal/domain"
)

// MoveIntent is an unvalidated move proposal from a view.
type MoveIntent struct {
	From      string `json:"from" validate:"required,square"`
	To        string `json:"to" validate:"required,square"`
	Promotion string `json:"promotion,omitempty" validate:"omitempty,promotion"`
}

// Inbound is a decoded client frame. Intent is set only for TypeMove.
type Inbound struct {
	Type   string
	Intent MoveIntent
}

type rawInbound struct {
	Type      string `json:"type"`
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("square", func(fl validator.FieldLevel) bool {
		s := strings.ToLower(fl.Field().String())
		return len(s) == 2 && s[0] >= 'a' && s[0] <= 'h' && s[1] >= '1' && s[1] <= '8'
	})
	_ = v.RegisterValidation("promotion", func(fl validator.FieldLevel) bool {
		switch strings.ToLower(fl.Field().String()) {
		case "q", "r", "b", "n":
			return true
		}
		return false
	})
	return v
}

// Decode parses one client frame. Anything that is not a well-formed "move"
// or "sync" frame is reported as domain.MalformedIntent.
func Decode(data []byte) (Inbound, error) {
	var raw rawInbound
	if err := json.Unmarshal(data, &raw); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", domain.MalformedIntent, err)
	}
	switch strings.ToLower(strings.TrimSpace(raw.Type)) {
	case TypeMove:
		in := Inbound{Type: TypeMove, Intent: MoveIntent{
			From:      strings.TrimSpace(raw.From),
			To:        strings.TrimSpace(raw.To),
			Promotion: strings.TrimSpace(raw.Promotion),
		}}
		return in, nil
	case TypeSync:
		return Inbound{Type: TypeSync}, nil
	default:
		return Inbound{}, fmt.Errorf("%w: unknown frame type %q", domain.MalformedIntent, raw.Type)
	}
}

// Validate checks that the intent names two squares and, if present, a
// promotion piece.
func (m MoveIntent) Validate() error {
	if err := validate.Struct(m); err != nil {
		return fmt.Errorf("%w: %v", domain.MalformedIntent, err)
	}
	return nil
}
