package ledger

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestRequest_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantAmount string // empty means no amount
	}{
		{"integer", `{"type":"DEPOSIT","amount":100,"description":"x"}`, "100"},
		{"fraction", `{"type":"DEPOSIT","amount":12.5,"description":"x"}`, "12.5"},
		{"exponent", `{"type":"DEPOSIT","amount":1e3,"description":"x"}`, "1000"},
		{"negative", `{"type":"DEPOSIT","amount":-4,"description":"x"}`, "-4"},
		{"numeric string", `{"type":"DEPOSIT","amount":"100","description":"x"}`, ""},
		{"text", `{"type":"DEPOSIT","amount":"lots","description":"x"}`, ""},
		{"boolean", `{"type":"DEPOSIT","amount":true,"description":"x"}`, ""},
		{"null", `{"type":"DEPOSIT","amount":null,"description":"x"}`, ""},
		{"object", `{"type":"DEPOSIT","amount":{"value":1},"description":"x"}`, ""},
		{"absent", `{"type":"DEPOSIT","description":"x"}`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req Request
			if err := json.Unmarshal([]byte(tt.body), &req); err != nil {
				t.Fatalf("Unmarshal failed: %v", err)
			}
			if req.Type != Deposit || req.Description != "x" {
				t.Errorf("Other fields not decoded: %+v", req)
			}

			switch {
			case tt.wantAmount == "" && req.Amount != nil:
				t.Errorf("Expected no amount, got %s", req.Amount)
			case tt.wantAmount != "" && req.Amount == nil:
				t.Errorf("Expected amount %s, got none", tt.wantAmount)
			case tt.wantAmount != "" && req.Amount.String() != tt.wantAmount:
				t.Errorf("Expected amount %s, got %s", tt.wantAmount, req.Amount)
			}
		})
	}
}

func TestRequest_NonNumericAmountFailsAmountCheck(t *testing.T) {
	for _, body := range []string{
		`{"type":"DEPOSIT","amount":"100","description":"x"}`,
		`{"type":"DEPOSIT","amount":true,"description":"x"}`,
	} {
		var req Request
		if err := json.Unmarshal([]byte(body), &req); err != nil {
			t.Fatalf("Unmarshal failed: %v", err)
		}
		if err := Validate(req); !errors.Is(err, ErrAmountNotPositive) {
			t.Errorf("%s: expected ErrAmountNotPositive, got %v", body, err)
		}
	}

	// The type check still comes first.
	var req Request
	if err := json.Unmarshal([]byte(`{"type":"REFUND","amount":"lots","description":"x"}`), &req); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if err := Validate(req); !errors.Is(err, ErrInvalidType) {
		t.Errorf("Expected ErrInvalidType, got %v", err)
	}
}

func TestValidate_HugeExponentIsTooLarge(t *testing.T) {
	var req Request
	if err := json.Unmarshal([]byte(`{"type":"DEPOSIT","amount":1e999999999,"description":"x"}`), &req); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if err := Validate(req); !errors.Is(err, ErrAmountTooLarge) {
		t.Errorf("Expected ErrAmountTooLarge, got %v", err)
	}
}
