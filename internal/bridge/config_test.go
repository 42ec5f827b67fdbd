package bridge

import "testing"

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.KeyExpr = "demo/topic"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config with key-expr set should validate: %v", err)
	}
}

func TestValidateRejectsEmptyKeyExpr(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error for empty key-expr")
	}
	if !IsKind(err, KindResourceName) {
		t.Fatalf("error kind = %v, want resource_name", err)
	}
}

func TestValidateRejectsOutOfRangePriority(t *testing.T) {
	cfg := DefaultConfig()
	cfg.KeyExpr = "demo/topic"
	cfg.QoS.Priority = 9
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for priority out of 1..7")
	}
}

func TestLockedConfigLocksDeclarationFieldsAboveNull(t *testing.T) {
	sm := NewStateMachine()
	lc := NewLockedConfig(DefaultConfig(), sm)

	if err := lc.SetDeclaration(func(c *Config) { c.KeyExpr = "a/b" }); err != nil {
		t.Fatalf("setting declaration field at null: %v", err)
	}

	if err := sm.Transition("op", StateReady, func() error { return nil }); err != nil {
		t.Fatalf("transition to ready: %v", err)
	}

	err := lc.SetDeclaration(func(c *Config) { c.KeyExpr = "changed" })
	if err == nil {
		t.Fatal("expected declaration field mutation to fail once at ready")
	}
	if !IsKind(err, KindStateConflict) {
		t.Fatalf("error kind = %v, want state_conflict", err)
	}
	if got := lc.Snapshot().KeyExpr; got != "a/b" {
		t.Fatalf("key-expr = %q, want unchanged %q", got, "a/b")
	}
}

func TestLockedConfigSetMutableWorksInAnyState(t *testing.T) {
	sm := NewStateMachine()
	lc := NewLockedConfig(DefaultConfig(), sm)
	_ = sm.Transition("op", StatePlaying, func() error { return nil })

	lc.SetMutable(func(c *Config) { c.ReceiveTimeoutMS = 42 })
	if got := lc.Snapshot().ReceiveTimeoutMS; got != 42 {
		t.Fatalf("receive-timeout-ms = %d, want 42", got)
	}
}
