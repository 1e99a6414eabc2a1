package pool

import "testing"

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"zero min", Config{Min: 0, Max: 5}, true},
		{"negative min", Config{Min: -1, Max: 5}, true},
		{"max below min", Config{Min: 5, Max: 2}, true},
		{"max equals min", Config{Min: 3, Max: 3}, false},
		{"max above min", Config{Min: 1, Max: 10}, false},
	}
	for _, c := range cases {
		err := c.cfg.Validate()
		if c.wantErr && err == nil {
			t.Errorf("%s: Validate() = nil, want error", c.name)
		}
		if !c.wantErr && err != nil {
			t.Errorf("%s: Validate() = %v, want nil", c.name, err)
		}
	}
}

func TestDefaultConfigSatisfiesValidate(t *testing.T) {
	cfg := DefaultConfig(2, 10)
	if err := cfg.Validate(); err != nil {
		t.Fatalf("DefaultConfig(2, 10).Validate() = %v", err)
	}
	if !cfg.TestOnCheckout {
		t.Error("DefaultConfig should test on checkout")
	}
	if !cfg.ResetOnReturn || !cfg.SpResetConnection {
		t.Error("DefaultConfig should reset on return via sp_reset_connection")
	}
}
