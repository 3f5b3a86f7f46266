package config

import "testing"

func TestBuildNotifyManagerRegistersRulesFromConfig(t *testing.T) {
	cfg := &Config{
		Notifications: map[string]NotificationConfig{
			"ops-alerts": {
				Sink:       "slack",
				Target:     "#ops",
				EventTypes: []string{"run.stalled", "approval.requested"},
				Token:      "xoxb-test",
			},
		},
	}

	mgr, err := cfg.BuildNotifyManager(nil)
	if err != nil {
		t.Fatalf("BuildNotifyManager: %v", err)
	}
	rules := mgr.Rules()
	if len(rules) != 1 {
		t.Fatalf("expected 1 rule, got %d", len(rules))
	}
	if rules[0].SinkName != "slack" || rules[0].Target != "#ops" {
		t.Fatalf("unexpected rule: %+v", rules[0])
	}
	if len(rules[0].EventTypes) != 2 {
		t.Fatalf("expected 2 event types, got %d", len(rules[0].EventTypes))
	}
}

func TestBuildNotifyManagerWithoutTokenSkipsSinkRegistration(t *testing.T) {
	cfg := &Config{
		Notifications: map[string]NotificationConfig{
			"ops-alerts": {Sink: "discord", Target: "123456"},
		},
	}

	mgr, err := cfg.BuildNotifyManager(nil)
	if err != nil {
		t.Fatalf("BuildNotifyManager: %v", err)
	}
	if len(mgr.Rules()) != 1 {
		t.Fatalf("expected the rule to be registered even without a sink token")
	}
}
