package engine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStateTransitions(t *testing.T) {
	cases := []struct {
		from, to State
		want     bool
	}{
		{NotStarted, Starting, true},
		{NotStarted, Ready, false},
		{NotStarted, Disabled, true},
		{Starting, Ready, true},
		{Starting, Degraded, true},
		{Starting, NotStarted, false},
		{Ready, NotStarted, true},
		{Ready, Degraded, true},
		{Ready, Starting, false},
		{Degraded, Starting, true},
		{Degraded, Ready, false},
		{Degraded, Disabled, true},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.want {
			t.Fatalf("%v.CanTransition(%v) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestDisabledIsTerminal(t *testing.T) {
	for _, next := range []State{NotStarted, Starting, Ready, Degraded, Disabled} {
		if Disabled.CanTransition(next) {
			t.Fatalf("Disabled.CanTransition(%v) = true", next)
		}
	}
}

func TestStateTextRoundTrip(t *testing.T) {
	for _, s := range []State{NotStarted, Starting, Ready, Degraded, Disabled} {
		text, err := s.MarshalText()
		require.NoError(t, err)
		var got State
		require.NoError(t, got.UnmarshalText(text))
		require.Equal(t, s, got)
	}
	var s State
	require.Error(t, s.UnmarshalText([]byte("sleeping")))
	require.Equal(t, "unknown", State(42).String())
}
