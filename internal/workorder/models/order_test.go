package models

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"limscore/pkg/domain"
	dErrors "limscore/pkg/domain-errors"
)

func TestOrderConfirmAndReceipt(t *testing.T) {
	order := &Order{Status: OrderStatusPending}
	receiptID := domain.ReceiptID(uuid.New())

	err := order.MarkReceipted(receiptID)
	require.Error(t, err)
	assert.Equal(t, dErrors.CodeOrderNotConfirmed, dErrors.Code(err))

	require.NoError(t, order.Confirm())
	require.NoError(t, order.MarkReceipted(receiptID))
	require.NotNil(t, order.ReceiptID)

	err = order.MarkReceipted(domain.ReceiptID(uuid.New()))
	require.Error(t, err)
	assert.Equal(t, dErrors.CodeOrderAlreadyReceipted, dErrors.Code(err))
	assert.Equal(t, receiptID, *order.ReceiptID)
}

func TestOrderCancelGuards(t *testing.T) {
	order := &Order{Status: OrderStatusConfirmed}
	require.NoError(t, order.Cancel())

	err := order.Cancel()
	require.Error(t, err)
	assert.Equal(t, dErrors.CodeInvalidTransition, dErrors.Code(err))

	receipted := &Order{Status: OrderStatusConfirmed}
	id := domain.ReceiptID(uuid.New())
	receipted.ReceiptID = &id
	err = receipted.Cancel()
	require.Error(t, err)
	assert.Equal(t, dErrors.CodeInvalidTransition, dErrors.Code(err))
}

func TestOrderConfirmOnlyFromPending(t *testing.T) {
	order := &Order{Status: OrderStatusCancelled}
	err := order.Confirm()
	require.Error(t, err)
	assert.Equal(t, dErrors.CodeInvalidTransition, dErrors.Code(err))
}
