package tracker

// validate checks a single info value on its own.
func validate(i FileTrackingInfo) error {
	if i.Type == TypeBlock && i.State != StateRemoteOnly {
		return &InvalidTransitionError{Name: i.FileName, From: "-", To: i.String(), Reason: "block files must be remote only"}
	}
	if i.State == StateRemoteOnly && i.Metadata == nil {
		return &InvalidTransitionError{Name: i.FileName, From: "-", To: i.String(), Reason: "remote only requires metadata"}
	}
	return nil
}

var stateEdges = map[FileState][]FileState{
	StateDisk:       {StateCache, StateRemoteOnly},
	StateCache:      {StateRemoteOnly},
	StateRemoteOnly: {StateCache},
}

func stateAllowed(from, to FileState) bool {
	if from == to {
		return true
	}
	for _, s := range stateEdges[from] {
		if s == to {
			return true
		}
	}
	return false
}

// checkTransition validates replacing old with next.
func checkTransition(old, next FileTrackingInfo) error {
	fail := func(reason string) error {
		return &InvalidTransitionError{Name: old.FileName, From: old.String(), To: next.String(), Reason: reason}
	}

	if old.FileName != next.FileName {
		return fail("file name changed")
	}
	if !stateAllowed(old.State, next.State) {
		return fail("state transition not allowed")
	}
	if old.Type == TypeBlock && next.Type != TypeBlock {
		return fail("block files are never demoted")
	}
	if old.Type == TypeBlock && next.State != StateRemoteOnly {
		return fail("block files stay remote only")
	}
	if old.Type != next.Type && next.State != StateRemoteOnly {
		return fail("promotion requires remote only state")
	}
	if old.Metadata != nil && !old.Metadata.Equal(next.Metadata) {
		return fail("metadata is immutable once set")
	}
	return validate(next)
}
