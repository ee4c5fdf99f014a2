package credential

import (
	"errors"
	"testing"

	"github.com/99designs/keyring"

	"github.com/nhle/mailreader/internal/model"
)

func TestMasterKey(t *testing.T) {
	withKey := func() (keyring.Keyring, error) {
		return keyring.NewArrayKeyring([]keyring.Item{{Key: MasterKeyItem, Data: []byte(" from-ring \n")}}), nil
	}
	empty := func() (keyring.Keyring, error) {
		return keyring.NewArrayKeyring(nil), nil
	}
	broken := func() (keyring.Keyring, error) {
		return nil, errors.New("no backend")
	}

	tests := []struct {
		name    string
		cfg     model.SecurityConfig
		open    func() (keyring.Keyring, error)
		want    string
		wantErr error
	}{
		{name: "config wins", cfg: model.SecurityConfig{MasterKey: "from-env", UseKeyring: true}, open: withKey, want: "from-env"},
		{name: "keyring", cfg: model.SecurityConfig{UseKeyring: true}, open: withKey, want: "from-ring"},
		{name: "keyring disabled", cfg: model.SecurityConfig{}, open: withKey, wantErr: ErrNoMasterKey},
		{name: "keyring empty", cfg: model.SecurityConfig{UseKeyring: true}, open: empty, wantErr: ErrNoMasterKey},
		{name: "keyring unavailable", cfg: model.SecurityConfig{UseKeyring: true}, open: broken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MasterKey(tt.cfg, tt.open)
			if tt.want == "" {
				if err == nil {
					t.Fatalf("MasterKey() = %q, want error", got)
				}
				if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
					t.Errorf("MasterKey() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("MasterKey() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("MasterKey() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStoreMasterKey(t *testing.T) {
	ring := keyring.NewArrayKeyring(nil)
	if err := StoreMasterKey(ring, "k1"); err != nil {
		t.Fatalf("StoreMasterKey() error = %v", err)
	}
	got, err := MasterKey(model.SecurityConfig{UseKeyring: true}, func() (keyring.Keyring, error) { return ring, nil })
	if err != nil || got != "k1" {
		t.Errorf("MasterKey() = %q, %v, want k1", got, err)
	}
}
