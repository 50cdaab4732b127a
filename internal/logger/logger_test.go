package logger

import "testing"

func TestNew(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"text info", Config{Level: "info", Format: "text"}},
		{"json debug", Config{Level: "debug", Format: "json"}},
		{"unknown level falls back", Config{Level: "chatty", Format: "text"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := New(tt.cfg)
			if l == nil || l.Logger == nil {
				t.Fatal("expected non-nil logger")
			}
		})
	}
}

func TestContextHelpers(t *testing.T) {
	l := Default()

	if got := l.WithComponent("ingest"); got == nil || got.Logger == nil {
		t.Error("WithComponent returned nil logger")
	}
	if got := l.WithStream("scrobbles", "run-1"); got == nil || got.Logger == nil {
		t.Error("WithStream returned nil logger")
	}
	if got := l.WithPlaylist("binged"); got == nil || got.Logger == nil {
		t.Error("WithPlaylist returned nil logger")
	}
}
