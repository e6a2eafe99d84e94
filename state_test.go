package cdclog

import "testing"

func TestStateMachineGetDefault(t *testing.T) {
	t.Parallel()

	sm := newStateMachine()
	if got := sm.get(); got != StatePermitted {
		t.Errorf("\ngot \n\t%#+v \nwanted \n\t%#+v", got, StatePermitted)
	}
}

func TestStateMachineCompareAndSet(t *testing.T) {
	t.Parallel()

	sm := newStateMachine()
	sm.Lock()
	sm.setIfNotContains(StateForbidden)
	sm.Unlock()

	sm.Lock()
	ok := sm.compareAndSet(StatePermitted, StatePermitted)
	sm.Unlock()
	if ok {
		t.Errorf("\ngot \n\t%#+v \nwanted \n\t%#+v", ok, false)
	}

	sm.Lock()
	ok = sm.compareAndSet(StateForbidden, StatePermitted)
	sm.Unlock()
	if !ok {
		t.Errorf("\ngot \n\t%#+v \nwanted \n\t%#+v", ok, true)
	}
	if got := sm.get(); got != StatePermitted {
		t.Errorf("\ngot \n\t%#+v \nwanted \n\t%#+v", got, StatePermitted)
	}
}

func TestStateMachineMarkContains(t *testing.T) {
	t.Parallel()

	t.Run("permitted to contains", func(t *testing.T) {
		t.Parallel()
		sm := newStateMachine()
		sm.markContains()
		if got := sm.get(); got != StateContains {
			t.Errorf("\ngot \n\t%#+v \nwanted \n\t%#+v", got, StateContains)
		}
	})

	t.Run("contains is idempotent", func(t *testing.T) {
		t.Parallel()
		sm := newStateMachine()
		sm.markContains()
		sm.markContains()
		if got := sm.get(); got != StateContains {
			t.Errorf("\ngot \n\t%#+v \nwanted \n\t%#+v", got, StateContains)
		}
	})

	t.Run("forbidden panics", func(t *testing.T) {
		t.Parallel()
		sm := newStateMachine()
		sm.Lock()
		sm.setIfNotContains(StateForbidden)
		sm.Unlock()

		defer func() {
			if r := recover(); r == nil {
				t.Errorf("\ngot \n\t%#+v \nwanted \n\tpanic", r)
			}
		}()
		sm.markContains()
	})
}

func TestStateMachineContainsIsTerminal(t *testing.T) {
	t.Parallel()

	sm := newStateMachine()
	sm.markContains()

	sm.Lock()
	sm.setIfNotContains(StateForbidden)
	sm.Unlock()

	if got := sm.get(); got != StateContains {
		t.Errorf("\ngot \n\t%#+v \nwanted \n\t%#+v", got, StateContains)
	}
}

func TestCdcStateString(t *testing.T) {
	t.Parallel()

	cases := map[CdcState]string{
		StatePermitted: "PERMITTED",
		StateForbidden: "FORBIDDEN",
		StateContains:  "CONTAINS",
		CdcState(99):   "UNKNOWN",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("\ngot \n\t%#+v \nwanted \n\t%#+v", got, want)
		}
	}
}
