package validator

import (
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/shopspring/decimal"
)

type cardForm struct {
	Cvc   string `validate:"required,cvc"`
	Month int    `validate:"month"`
	Year  int    `validate:"expyear"`
}

func TestCardRules(t *testing.T) {
	c := qt.New(t)
	v := New()

	c.Assert(v.Validate(&cardForm{Cvc: "123", Month: 1, Year: 17}), qt.IsNil)
	c.Assert(v.Validate(&cardForm{Cvc: "999", Month: 12, Year: 30}), qt.IsNil)

	for _, tc := range []struct {
		name  string
		form  cardForm
		field string
		msg   string
	}{
		{"short cvc", cardForm{Cvc: "12", Month: 5, Year: 20}, "cardForm.Cvc", "Invalid CVC number"},
		{"long cvc", cardForm{Cvc: "1234", Month: 5, Year: 20}, "cardForm.Cvc", "Invalid CVC number"},
		{"letters cvc", cardForm{Cvc: "12a", Month: 5, Year: 20}, "cardForm.Cvc", "Invalid CVC number"},
		{"month zero", cardForm{Cvc: "123", Month: 0, Year: 20}, "cardForm.Month", "Invalid month"},
		{"month 13", cardForm{Cvc: "123", Month: 13, Year: 20}, "cardForm.Month", "Invalid month"},
		{"year 16", cardForm{Cvc: "123", Month: 5, Year: 16}, "cardForm.Year", "Invalid year"},
		{"year 31", cardForm{Cvc: "123", Month: 5, Year: 31}, "cardForm.Year", "Invalid year"},
	} {
		c.Run(tc.name, func(c *qt.C) {
			err := Explain(v.Validate(&tc.form))
			c.Assert(err, qt.DeepEquals, ValidationErrors{{Field: tc.field, Message: tc.msg}})
		})
	}
}

func TestValidatePhone(t *testing.T) {
	c := qt.New(t)
	v := New()

	type contact struct {
		Phone   string `validate:"omitempty,phone"`
		Country string
	}

	c.Assert(v.Validate(&contact{}), qt.IsNil)
	c.Assert(v.Validate(&contact{Phone: "+34 612 345 678"}), qt.IsNil)
	c.Assert(v.Validate(&contact{Phone: "612345678"}), qt.IsNil)
	c.Assert(v.Validate(&contact{Phone: "(650) 253-0000", Country: "US"}), qt.IsNil)
	c.Assert(v.Validate(&contact{Phone: "phone"}), qt.IsNotNil)
	c.Assert(v.Validate(&contact{Phone: "12"}), qt.IsNotNil)
}

func TestDecimalBounds(t *testing.T) {
	c := qt.New(t)
	v := New()

	type tax struct {
		Percent decimal.Decimal `validate:"gte=0,lte=100"`
	}

	c.Assert(v.Validate(&tax{Percent: decimal.Zero}), qt.IsNil)
	c.Assert(v.Validate(&tax{Percent: decimal.RequireFromString("21.5")}), qt.IsNil)
	c.Assert(v.Validate(&tax{Percent: decimal.NewFromInt(100)}), qt.IsNil)
	c.Assert(v.Validate(&tax{Percent: decimal.RequireFromString("100.01")}), qt.IsNotNil)
	c.Assert(v.Validate(&tax{Percent: decimal.NewFromInt(-1)}), qt.IsNotNil)
}
