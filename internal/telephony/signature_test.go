package telephony

import (
	"errors"
	"testing"
	"time"
)

func TestVerifySignature(t *testing.T) {
	secret := []byte("whsec_test")
	body := []byte(`{"event":"call_incoming","call_id":"c-1"}`)
	now := time.Unix(1_700_000_000, 0)

	tests := []struct {
		name      string
		timestamp int64
		signature func(ts int64) string
		wantErr   error
	}{
		{
			name:      "valid",
			timestamp: now.Unix(),
			signature: func(ts int64) string { return SignPayload(secret, ts, body) },
		},
		{
			name:      "valid at tolerance edge",
			timestamp: now.Unix() - 300,
			signature: func(ts int64) string { return SignPayload(secret, ts, body) },
		},
		{
			name:      "stale timestamp",
			timestamp: now.Unix() - 301,
			signature: func(ts int64) string { return SignPayload(secret, ts, body) },
			wantErr:   ErrStaleTimestamp,
		},
		{
			name:      "future timestamp beyond tolerance",
			timestamp: now.Unix() + 400,
			signature: func(ts int64) string { return SignPayload(secret, ts, body) },
			wantErr:   ErrStaleTimestamp,
		},
		{
			name:      "wrong secret",
			timestamp: now.Unix(),
			signature: func(ts int64) string { return SignPayload([]byte("other"), ts, body) },
			wantErr:   ErrBadSignature,
		},
		{
			name:      "signature over different body",
			timestamp: now.Unix(),
			signature: func(ts int64) string { return SignPayload(secret, ts, []byte("{}")) },
			wantErr:   ErrBadSignature,
		},
		{
			name:      "replayed signature with shifted timestamp",
			timestamp: now.Unix(),
			signature: func(ts int64) string { return SignPayload(secret, ts-10, body) },
			wantErr:   ErrBadSignature,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifySignature(secret, tt.timestamp, body, tt.signature(tt.timestamp), now, DefaultSignatureTolerance)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestVerifySignatureDefaultsTolerance(t *testing.T) {
	secret := []byte("s")
	body := []byte("b")
	now := time.Unix(1_700_000_000, 0)
	ts := now.Unix() - 120

	if err := VerifySignature(secret, ts, body, SignPayload(secret, ts, body), now, 0); err != nil {
		t.Errorf("err = %v, want nil with default tolerance", err)
	}
}
