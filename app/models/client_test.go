package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClientValidate(t *testing.T) {
	client := Client{
		UserID: 1,
		Name:   "Acme GmbH",
		Email:  "billing@acme.example",
	}
	assert.NoError(t, client.Validate())

	client.Name = "x"
	assert.Error(t, client.Validate(), "name below minimum length")

	client.Name = "Acme GmbH"
	client.Email = "not-an-email"
	assert.Error(t, client.Validate())

	client.Email = ""
	assert.NoError(t, client.Validate(), "email is optional")
}

func TestRecurringInvoiceValidate(t *testing.T) {
	invoice := RecurringInvoice{
		UserID:      1,
		ClientID:    1,
		Title:       "Monthly retainer",
		AmountCents: 150000,
		Currency:    "EUR",
		Recurrence:  RecurrenceMonthly,
	}
	assert.NoError(t, invoice.Validate())

	invoice.Recurrence = "fortnightly"
	assert.Error(t, invoice.Validate(), "unsupported recurrence interval")

	invoice.Recurrence = RecurrenceYearly
	invoice.AmountCents = -1
	assert.Error(t, invoice.Validate())

	invoice.AmountCents = 0
	invoice.Currency = "EURO"
	assert.Error(t, invoice.Validate(), "currency must be a 3-letter code")
}
