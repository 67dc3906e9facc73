package models

import "testing"

func TestAgentState_Valid(t *testing.T) {
	tests := []struct {
		name  string
		state AgentState
		want  bool
	}{
		{"initializing is valid", AgentStateInitializing, true},
		{"idle is valid", AgentStateIdle, true},
		{"busy is valid", AgentStateBusy, true},
		{"error is valid", AgentStateError, true},
		{"offline is valid", AgentStateOffline, true},
		{"empty string is invalid", AgentState(""), false},
		{"unknown state is invalid", AgentState("sleeping"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.Valid(); got != tt.want {
				t.Errorf("AgentState(%q).Valid() = %v, want %v", tt.state, got, tt.want)
			}
		})
	}
}

func TestAgentState_CanTransitionTo(t *testing.T) {
	tests := []struct {
		name string
		from AgentState
		to   AgentState
		want bool
	}{
		{"initializing to idle on first heartbeat", AgentStateInitializing, AgentStateIdle, true},
		{"initializing cannot go busy", AgentStateInitializing, AgentStateBusy, false},
		{"idle to busy on assignment", AgentStateIdle, AgentStateBusy, true},
		{"busy to idle on completion", AgentStateBusy, AgentStateIdle, true},
		{"idle to error on self-report", AgentStateIdle, AgentStateError, true},
		{"busy to error on self-report", AgentStateBusy, AgentStateError, true},
		{"error recovers to idle", AgentStateError, AgentStateIdle, true},
		{"error cannot go busy directly", AgentStateError, AgentStateBusy, false},
		{"any state reaches offline", AgentStateError, AgentStateOffline, true},
		{"busy reaches offline", AgentStateBusy, AgentStateOffline, true},
		{"offline is terminal", AgentStateOffline, AgentStateInitializing, false},
		{"offline cannot return to idle", AgentStateOffline, AgentStateIdle, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
				t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestAgent_HasCapabilities(t *testing.T) {
	a := &Agent{
		ID:           "agent-1",
		Role:         "backend-developer",
		Capabilities: []string{"code_generation", "testing", "go"},
	}

	tests := []struct {
		name     string
		required []string
		want     bool
	}{
		{"empty requirement always matches", nil, true},
		{"single matching capability", []string{"testing"}, true},
		{"full subset matches", []string{"go", "code_generation"}, true},
		{"missing capability fails", []string{"deployment"}, false},
		{"partial match fails", []string{"go", "deployment"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := a.HasCapabilities(tt.required); got != tt.want {
				t.Errorf("HasCapabilities(%v) = %v, want %v", tt.required, got, tt.want)
			}
		})
	}
}

func TestAgentDescriptor_Validate(t *testing.T) {
	tests := []struct {
		name    string
		desc    AgentDescriptor
		wantErr bool
	}{
		{
			"well-formed descriptor",
			AgentDescriptor{Role: "reviewer", Capabilities: []string{"review"}},
			false,
		},
		{
			"missing role",
			AgentDescriptor{Capabilities: []string{"review"}},
			true,
		},
		{
			"no capabilities",
			AgentDescriptor{Role: "reviewer"},
			true,
		},
		{
			"empty capability tag",
			AgentDescriptor{Role: "reviewer", Capabilities: []string{"review", ""}},
			true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.desc.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
