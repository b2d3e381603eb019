package signature_test

import (
	"errors"
	"testing"

	"github.com/JaimeStill/ktru/pkg/signature"
)

func TestSignKnownVector(t *testing.T) {
	// RFC 4231 test case 2.
	got := signature.Sign([]byte("Jefe"), []byte("what do ya want for nothing?"))
	want := "5bdcc146bf60754e6a042426089575c75a003f089d2739839dec58b964ec3843"
	if got != want {
		t.Errorf("Sign = %s, want %s", got, want)
	}
}

func TestVerify(t *testing.T) {
	secret := []byte("shared")
	payload := []byte(`{"batch_id":"product_batch_1"}`)
	valid := signature.Sign(secret, payload)

	tests := []struct {
		name    string
		payload []byte
		sig     string
		wantErr error
	}{
		{"valid", payload, valid, nil},
		{"missing", payload, "", signature.ErrMissing},
		{"not hex", payload, "zz", signature.ErrMismatch},
		{"tampered payload", []byte(`{"batch_id":"other"}`), valid, signature.ErrMismatch},
		{"wrong secret", payload, signature.Sign([]byte("other"), payload), signature.ErrMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := signature.Verify(secret, tt.payload, tt.sig)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Verify err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
