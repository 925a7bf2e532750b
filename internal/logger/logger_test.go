package logger

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestWithCarriesFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := (&Logger{SugaredLogger: zap.New(core).Sugar()}).With("component", "engine")
	l.Info("xp awarded", "actor_id", "u1", "final_points", 78)
	l.Debug("submission rejected", "reason", "CooldownActive")

	if logs.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", logs.Len())
	}
	entry := logs.All()[0]
	fields := entry.ContextMap()
	if fields["component"] != "engine" || fields["actor_id"] != "u1" {
		t.Fatalf("unexpected fields: %v", fields)
	}
	if fields["final_points"] != int64(78) {
		t.Fatalf("expected final_points 78, got %#v", fields["final_points"])
	}
}

func TestNewModes(t *testing.T) {
	for _, mode := range []string{"dev", "prod"} {
		l, err := New(mode)
		if err != nil {
			t.Fatalf("%s: %v", mode, err)
		}
		l.Info("ready", "mode", mode)
	}
	Nop().Error("ignored")
}
