package dsl

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var structValidator = validator.New()

// ParseAndValidate unmarshals raw JSON into a Process and rejects it up
// front if it is structurally malformed: struct-tag validation catches
// missing required fields, and Process.Validate catches the cross-field
// invariants a tag can't express (duplicate node ids, dangling transition
// endpoints, condition transitions without an expression).
func ParseAndValidate(unmarshal func(interface{}) error) (*Process, error) {
	var p Process
	if err := unmarshal(&p); err != nil {
		return nil, fmt.Errorf("dsl: invalid JSON: %w", err)
	}
	if err := structValidator.Struct(&p); err != nil {
		return nil, fmt.Errorf("dsl: validation failed: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}
