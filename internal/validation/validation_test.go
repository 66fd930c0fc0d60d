package validation

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type sample struct {
	Name   string `validate:"required"`
	Amount int64  `validate:"required,positive_money"`
}

func TestStructPassesValidInput(t *testing.T) {
	err := Struct(sample{Name: "a", Amount: 100})
	require.NoError(t, err)
}

func TestStructRejectsMissingRequired(t *testing.T) {
	err := Struct(sample{Amount: 100})
	require.Error(t, err)
}

func TestStructRejectsNonPositiveMoney(t *testing.T) {
	err := Struct(sample{Name: "a", Amount: 0})
	require.Error(t, err)

	err = Struct(sample{Name: "a", Amount: -5})
	require.Error(t, err)
}
