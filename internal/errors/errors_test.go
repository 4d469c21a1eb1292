package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestNewBrokerErrorFallsBackToDefaultMessage(t *testing.T) {
	err := NewBrokerError("AB1004", "", nil)
	if err.Message != DefaultBrokerMessage {
		t.Errorf("Message = %q, want %q", err.Message, DefaultBrokerMessage)
	}
}

func TestBrokerMessage(t *testing.T) {
	wrapped := fmt.Errorf("placing order: %w", NewBrokerError("AB4008", "Insufficient funds", nil))
	if got := BrokerMessage(wrapped); got != "Insufficient funds" {
		t.Errorf("BrokerMessage = %q, want broker text", got)
	}

	plain := errors.New("connection reset")
	if got := BrokerMessage(plain); got != "connection reset" {
		t.Errorf("BrokerMessage = %q, want error text", got)
	}

	if got := BrokerMessage(nil); got != "" {
		t.Errorf("BrokerMessage(nil) = %q", got)
	}
}

func TestWrapPreservesSentinel(t *testing.T) {
	err := Wrapf(ErrDataNotFound, "portfolio %s", "u1")
	if !Is(err, ErrDataNotFound) {
		t.Fatalf("expected wrapped sentinel, got %v", err)
	}
	if Wrap(nil, "x") != nil {
		t.Error("Wrap(nil) should be nil")
	}
}

func TestValidationErrorAs(t *testing.T) {
	err := Wrap(NewValidationError("price", nil, "price is required for LIMIT orders"), "placing order")
	var ve *ValidationError
	if !As(err, &ve) {
		t.Fatal("expected ValidationError in chain")
	}
	if ve.Field != "price" {
		t.Errorf("Field = %q", ve.Field)
	}
}

func TestOrderErrorMatchesRejectionOnlyForPlacement(t *testing.T) {
	broker := NewBrokerError("AB4008", "Insufficient funds", nil)

	placed := NewOrderError("o1", "INFY", "place", "Insufficient funds", broker)
	if !Is(placed, ErrOrderRejected) {
		t.Error("failed placement should match ErrOrderRejected")
	}
	var be *BrokerError
	if !As(placed, &be) {
		t.Error("broker error should stay reachable")
	}

	cancelled := NewOrderError("o1", "INFY", "cancel", "Insufficient funds", broker)
	if Is(cancelled, ErrOrderRejected) {
		t.Error("failed cancel is not a rejected order")
	}
}

func TestValidationErrorUnwrapsKind(t *testing.T) {
	ve := NewValidationError("quantity", 0, "quantity must be greater than 0")
	if Is(ve, ErrInvalidOrder) {
		t.Error("plain validation error should not match ErrInvalidOrder")
	}
	ve.Err = ErrInvalidOrder
	if !Is(Wrap(ve, "placing order"), ErrInvalidOrder) {
		t.Error("expected ErrInvalidOrder through the wrap")
	}
}
