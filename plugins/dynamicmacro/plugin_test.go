package dynamicmacro

import (
	"testing"

	"github.com/sammwyy/keymacro/api"
	"github.com/sammwyy/keymacro/core/configbuild"
	"github.com/sammwyy/keymacro/core/hotkey"
	"github.com/sammwyy/keymacro/core/registry"
)

type fakeCore struct {
	recorder
}

func (c *fakeCore) GetLogger(prefix string) api.Logger {
	return api.NewLogger(prefix)
}

func rawWithSize(size interface{}) map[string]interface{} {
	return map[string]interface{}{
		"plugins": map[string]interface{}{
			ID: map[string]interface{}{
				"config": map[string]interface{}{"buffer_size": size},
			},
		},
	}
}

func TestPluginRegistration(t *testing.T) {
	tests := []struct {
		name    string
		raw     map[string]interface{}
		wantErr bool
	}{
		{name: "defaults"},
		{name: "custom size", raw: rawWithSize("6")},
		{name: "zero size", raw: rawWithSize("0"), wantErr: true},
		{name: "negative size", raw: rawWithSize(float64(-3)), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			builder := configbuild.New(hotkey.Parser, api.NewLogger("test"))
			reg := registry.NewRegistry(builder.Factory(func() map[string]interface{} { return tt.raw }), api.NewLogger("test"))

			err := reg.Register(New())
			if (err != nil) != tt.wantErr {
				t.Fatalf("Register error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && reg.Len() != 0 {
				t.Error("an invalid plugin must not be registered")
			}
		})
	}
}

func TestPluginHandleUsesConfig(t *testing.T) {
	core := &fakeCore{}
	p := New()
	if err := p.Initialize(core); err != nil {
		t.Fatal(err)
	}

	builder := configbuild.New(hotkey.Parser, api.NewLogger("test"))
	cfg, err := builder.Build(ID, p.ConfigSchema(), rawWithSize("2"))
	if err != nil {
		t.Fatal(err)
	}

	for _, c := range []int64{1, 2, 3} {
		if _, err := p.Handle(api.KeyDown(c), cfg); err != nil {
			t.Fatal(err)
		}
	}
	if got := p.Engine().History(); len(got) != 2 || got[0].Keycode != 3 {
		t.Errorf("History() = %v, want the 2 newest keys", got)
	}

	if _, err := p.Handle(api.FlagsChanged(api.FlagMaskControl), cfg); err != nil {
		t.Fatal(err)
	}
	outcome, err := p.Handle(api.KeyDown(keyT), cfg)
	if err != nil {
		t.Fatal(err)
	}
	// history [3 2] holds no repeat or cycle
	if outcome != api.Forward || len(core.events) != 0 {
		t.Errorf("outcome = %v, emitted %+v", outcome, core.events)
	}
}
