package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetailsMasked(t *testing.T) {
	got := Details{
		Brand:    " Visa ",
		Last4:    "4111 1111 1111 1234",
		ExpMonth: 13,
		ExpYear:  2030,
		VPA:      "ramesh.k@okbank",
	}.Masked()

	assert.Equal(t, "Visa", got.Brand)
	assert.Equal(t, "1234", got.Last4)
	assert.Equal(t, 0, got.ExpMonth)
	assert.Equal(t, 2030, got.ExpYear)
	assert.Equal(t, "ra****@okbank", got.VPA)
}

func TestMaskVPA(t *testing.T) {
	assert.Equal(t, "", maskVPA(" "))
	assert.Equal(t, "a****@upi", maskVPA("ab@upi"))
	assert.Equal(t, "us****", maskVPA("username"))
}

func TestParseMethodType(t *testing.T) {
	mt, err := ParseMethodType(" UPI ")
	assert.NoError(t, err)
	assert.Equal(t, MethodTypeUPI, mt)

	_, err = ParseMethodType("cheque")
	assert.ErrorIs(t, err, ErrInvalidMethodType)
}
