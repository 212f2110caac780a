package security

import (
	"context"
	"errors"
	"testing"
)

type fakeRemote struct {
	secure    SecureInfo
	secureErr error
	session   bool
	signed    []string
}

func (f *fakeRemote) SecureDevice(context.Context, string) (SecureInfo, error) {
	return f.secure, f.secureErr
}

func (f *fakeRemote) Sign(_ context.Context, _ string, msg string) (string, error) {
	f.signed = append(f.signed, msg)
	return "signed:" + msg, nil
}

func (f *fakeRemote) HasValidSession() bool { return f.session }

func TestSigner_CheckDevice(t *testing.T) {
	tests := []struct {
		name    string
		remote  *fakeRemote
		want    Status
		wantKey string
	}{
		{"secured", &fakeRemote{secure: SecureInfo{Secure: true, PublicKeyHex: "04ab"}, session: true}, Secured, "04ab"},
		{"not secure with session", &fakeRemote{session: true}, AuthorizedOnly, ""},
		{"not secure without session", &fakeRemote{}, Unsecured, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSigner(tt.remote, true)
			c, err := s.CheckDevice(context.Background(), "d1")
			if err != nil {
				t.Fatalf("CheckDevice() error = %v", err)
			}
			if c.Status != tt.want || c.PublicKey != tt.wantKey {
				t.Errorf("CheckDevice() = %+v, want %v/%q", c, tt.want, tt.wantKey)
			}
			if s.Status() != Unsecured {
				t.Error("CheckDevice changed the status before Apply")
			}
		})
	}
}

func TestSigner_CheckDeviceError(t *testing.T) {
	s := NewSigner(&fakeRemote{secureErr: ErrUnauthorized}, true)
	if _, err := s.CheckDevice(context.Background(), "d1"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("CheckDevice() error = %v, want ErrUnauthorized", err)
	}
}

func TestSigner_Prepare(t *testing.T) {
	remote := &fakeRemote{}
	s := NewSigner(remote, true)
	ctx := context.Background()

	got, _ := s.Prepare(ctx, "d1", "deb_log:1")
	if got != "deb_log:1" {
		t.Errorf("Prepare() while unsecured = %q, want plain", got)
	}

	s.Apply(Check{Status: Secured, PublicKey: "04ab"})

	got, err := s.Prepare(ctx, "d1", "deb_log:1")
	if err != nil || got != "signed:deb_log:1" {
		t.Errorf("Prepare() while secured = %q, %v", got, err)
	}

	got, _ = s.Prepare(ctx, "d1", "key:04ab")
	if got != "key:04ab" {
		t.Errorf("Prepare(set key) = %q, want unsigned", got)
	}
	if len(remote.signed) != 1 {
		t.Errorf("signed %d commands, want 1", len(remote.signed))
	}

	s.Reset()
	if s.Status() != Unsecured || s.PublicKey() != "" {
		t.Errorf("after Reset status = %v key = %q", s.Status(), s.PublicKey())
	}
}

func TestSigner_NotRequired(t *testing.T) {
	s := NewSigner(&fakeRemote{}, false)
	s.Apply(Check{Status: Secured})
	if s.ShouldSign("deb_log:1") {
		t.Error("ShouldSign() = true with secure mode not required")
	}
}

func TestStatus_String(t *testing.T) {
	if AuthorizedOnly.String() != "authorized_only" || Secured.String() != "secured" || Unsecured.String() != "unsecured" {
		t.Error("unexpected status names")
	}
}
