package perm

import "testing"

func TestParseScope(t *testing.T) {
	cases := []struct {
		in      string
		want    Scope
		wantErr bool
	}{
		{"", ScopeWrite, false},
		{"write", ScopeWrite, false},
		{" READ ", ScopeRead, false},
		{"admin", "", true},
	}
	for _, tc := range cases {
		got, err := ParseScope(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("ParseScope(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("ParseScope(%q) = %q, %v; want %q", tc.in, got, err, tc.want)
		}
	}
}

func TestPolicyAllows(t *testing.T) {
	cases := []struct {
		name   string
		policy Policy
		scope  Scope
		op     Op
		want   bool
	}{
		{"open server read", Policy{}, "", OpRead, true},
		{"open server write", Policy{}, "", OpWrite, true},
		{"read-only refuses write", Policy{ReadOnly: true}, ScopeWrite, OpWrite, false},
		{"read-only allows read", Policy{ReadOnly: true}, "", OpRead, true},
		{"auth without token", Policy{AuthRequired: true}, "", OpRead, false},
		{"read token reads", Policy{AuthRequired: true}, ScopeRead, OpRead, true},
		{"read token cannot write", Policy{AuthRequired: true}, ScopeRead, OpWrite, false},
		{"write token writes", Policy{AuthRequired: true}, ScopeWrite, OpWrite, true},
		{"write token on read-only server", Policy{AuthRequired: true, ReadOnly: true}, ScopeWrite, OpWrite, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.policy.Allows(tc.scope, tc.op); got != tc.want {
				t.Fatalf("Allows(%q, %s) = %v; want %v", tc.scope, tc.op, got, tc.want)
			}
		})
	}
}
