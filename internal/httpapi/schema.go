package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const itemSchema = `{
  "type": "object",
  "required": ["id", "price"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "name": {"type": "string"},
    "price": {"type": ["number", "string"]},
    "quantity": {"type": "integer"},
    "selectedSize": {"type": "string"},
    "selectedColor": {"type": "string"}
  }
}`

var (
	cartSchema = gojsonschema.NewStringLoader(`{
  "type": "object",
  "required": ["items"],
  "properties": {
    "items": {"type": "array", "minItems": 1, "items": ` + itemSchema + `},
    "total": {"type": ["number", "string"]}
  }
}`)

	orderSchema = gojsonschema.NewStringLoader(`{
  "type": "object",
  "required": ["items"],
  "properties": {
    "email": {"type": "string"},
    "items": {"type": "array", "minItems": 1, "items": ` + itemSchema + `},
    "total": {"type": ["number", "string"]},
    "status": {"type": "string", "enum": ["paid", "pending"]}
  }
}`)

	directSchema = gojsonschema.NewStringLoader(`{
  "type": "object",
  "required": ["items", "card"],
  "properties": {
    "items": {"type": "array", "minItems": 1, "items": ` + itemSchema + `},
    "total": {"type": ["number", "string"]},
    "card": {
      "type": "object",
      "required": ["no", "expMonth", "expYear", "cvv"],
      "properties": {
        "no": {"type": "string"},
        "expMonth": {"type": ["string", "integer"]},
        "expYear": {"type": ["string", "integer"]},
        "cvv": {"type": "string"}
      }
    },
    "billing": {"type": "object"}
  }
}`)

	supportMessageSchema = gojsonschema.NewStringLoader(`{
  "type": "object",
  "required": ["text"],
  "properties": {
    "role": {"type": "string", "enum": ["user", "assistant"]},
    "text": {"type": "string", "minLength": 1}
  }
}`)

	supportReplySchema = gojsonschema.NewStringLoader(`{
  "type": "object",
  "required": ["messages"],
  "properties": {
    "messages": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["role", "text"],
        "properties": {
          "role": {"type": "string", "enum": ["user", "assistant"]},
          "text": {"type": "string"}
        }
      }
    }
  }
}`)
)

// validateJSONSchema возвращает ErrInvalidInput с перечнем нарушений схемы.
func validateJSONSchema(schema gojsonschema.JSONLoader, body []byte) error {
	result, err := gojsonschema.Validate(schema, gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("%w: malformed json", domain.ErrInvalidInput)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("%w: %s", domain.ErrInvalidInput, strings.Join(msgs, "; "))
	}
	return nil
}

// decodeBody читает тело, проверяет схему (если задана) и разбирает JSON в dst.
func decodeBody(r *http.Request, schema gojsonschema.JSONLoader, dst any) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("%w: request body too large", domain.ErrInvalidInput)
		}
		return fmt.Errorf("%w: read body", domain.ErrInvalidInput)
	}
	if len(body) == 0 {
		return fmt.Errorf("%w: empty body", domain.ErrInvalidInput)
	}
	if schema != nil {
		if err := validateJSONSchema(schema, body); err != nil {
			return err
		}
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	return nil
}
