package agent

import "testing"

func TestValidateRequiresLocalTarget(t *testing.T) {
	o := &options{controlAddr: "127.0.0.1:17000", proxyAddr: "127.0.0.1:17001", token: "tok"}
	if err := o.validate(); err == nil {
		t.Fatalf("expected error when --local-target is missing")
	}
}

func TestValidateRequiresTokenOrCredentials(t *testing.T) {
	o := &options{
		controlAddr: "127.0.0.1:17000",
		proxyAddr:   "127.0.0.1:17001",
		localTarget: "127.0.0.1:8080",
	}
	if err := o.validate(); err == nil {
		t.Fatalf("expected error when neither token nor email/password is set")
	}

	o.email = "agent@example.com"
	if err := o.validate(); err == nil {
		t.Fatalf("expected error when password is still missing")
	}

	o.password = "secret"
	if err := o.validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateGeneratesAgentID(t *testing.T) {
	o := &options{
		controlAddr: "127.0.0.1:17000",
		proxyAddr:   "127.0.0.1:17001",
		localTarget: "127.0.0.1:8080",
		token:       "tok",
	}
	if err := o.validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if o.agentID == "" {
		t.Fatalf("expected a generated agent id")
	}
}

func TestValidateClampsReconnectBounds(t *testing.T) {
	o := &options{
		controlAddr:  "127.0.0.1:17000",
		proxyAddr:    "127.0.0.1:17001",
		localTarget:  "127.0.0.1:8080",
		token:        "tok",
		reconnectMin: -1,
		reconnectMax: 0,
	}
	if err := o.validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if o.reconnectMin <= 0 {
		t.Fatalf("expected reconnectMin to be clamped to a positive default, got %v", o.reconnectMin)
	}
	if o.reconnectMax < o.reconnectMin {
		t.Fatalf("expected reconnectMax >= reconnectMin, got max=%v min=%v", o.reconnectMax, o.reconnectMin)
	}
}
