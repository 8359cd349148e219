package fault

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOfWrapped(t *testing.T) {
	base := errors.New("broker down")
	err := fmt.Errorf("submit: %w", New(KindPublish, "publish order", base))

	assert.Equal(t, KindPublish, KindOf(err))
	assert.True(t, Is(err, KindPublish))
	assert.False(t, Is(err, KindProcessing))
	assert.ErrorIs(t, err, base)
}

func TestKindOfPlainError(t *testing.T) {
	assert.Equal(t, KindUnknown, KindOf(errors.New("x")))
	assert.False(t, Is(nil, KindUnknown))
}

func TestValidationMessage(t *testing.T) {
	err := Validation("create order", []Violation{
		{Field: "customerId", Rule: "required"},
		{Field: "items[0].quantity", Rule: "gt"},
	})

	require.Len(t, ViolationsOf(err), 2)
	assert.Equal(t, "create order: validation (customerId, items[0].quantity)", err.Error())
}
