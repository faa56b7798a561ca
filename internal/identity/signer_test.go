package identity

import "testing"

func TestNewGeneratesDistinctKeyPairs(t *testing.T) {
	a, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.PublicKey().Equal(b.PublicKey()) {
		t.Fatalf("expected two calls to New to produce distinct key pairs")
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	sid, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sig := sid.Sign("T1", []byte{0x01, 0x02, 0x03})
	if !sid.Verify("T1", []byte{0x01, 0x02, 0x03}, sig) {
		t.Fatalf("expected a valid signature to verify")
	}
}

func TestVerifyRejectsTamperedHash(t *testing.T) {
	sid, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sig := sid.Sign("T1", []byte{0x01, 0x02, 0x03})
	if sid.Verify("T1", []byte{0x01, 0x02, 0x04}, sig) {
		t.Fatalf("expected a signature to no longer verify once the hash changes")
	}
}

func TestVerifyRejectsTamperedTaskID(t *testing.T) {
	sid, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sig := sid.Sign("T1", []byte{0x01, 0x02, 0x03})
	if sid.Verify("T2", []byte{0x01, 0x02, 0x03}, sig) {
		t.Fatalf("expected a signature to no longer verify once the task id changes")
	}
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	a, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sig := a.Sign("T1", []byte{0x01})
	if b.Verify("T1", []byte{0x01}, sig) {
		t.Fatalf("expected a signature to not verify under a different identity's public key")
	}
}

func TestSelfTest(t *testing.T) {
	sid, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := sid.SelfTest(); err != nil {
		t.Fatalf("SelfTest: %v", err)
	}
}
