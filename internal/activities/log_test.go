package activities

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogActivity_Name(t *testing.T) {
	a := NewLogActivity(nil)
	assert.Equal(t, "log", a.Name())
}

func TestLogActivity_UsesInputMessage(t *testing.T) {
	a := NewLogActivity(nil)
	out, err := a.Execute(map[string]interface{}{"message": "hello"}, map[string]interface{}{"level": "warn"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", out["message"])
	assert.Equal(t, "WARN", out["level"])
}

func TestLogActivity_FallsBackToConfigMessage(t *testing.T) {
	a := NewLogActivity(nil)
	out, err := a.Execute(map[string]interface{}{}, map[string]interface{}{"message": "from config"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "from config", out["message"])
}

func TestLogActivity_FallsBackToWholeInput(t *testing.T) {
	a := NewLogActivity(nil)
	out, err := a.Execute(map[string]interface{}{"amount": float64(5)}, map[string]interface{}{}, nil)
	require.NoError(t, err)
	assert.Contains(t, out["message"], "amount")
	assert.Equal(t, "INFO", out["level"])
}

func TestLogActivity_ComplexMessageIsMarshaled(t *testing.T) {
	a := NewLogActivity(nil)
	out, err := a.Execute(map[string]interface{}{
		"message": map[string]interface{}{"code": float64(2)},
	}, map[string]interface{}{}, nil)
	require.NoError(t, err)
	assert.Contains(t, out["message"], "code")
}
