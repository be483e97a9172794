package tracker

// Map is a map-like view of a Tracker for batch bookkeeping. Every mutation
// goes through the same transition checks as the single-file operations.
type Map struct {
	t *Tracker
}

func (m *Map) Get(name string) (FileTrackingInfo, bool) {
	return m.t.Get(name)
}

// Put creates name or transitions its existing entry to info.
func (m *Map) Put(info FileTrackingInfo) error {
	if _, loaded, err := m.t.Track(info); err != nil || !loaded {
		return err
	}
	_, err := m.t.Update(info.FileName, func(FileTrackingInfo) (FileTrackingInfo, error) {
		return info, nil
	})
	return err
}

func (m *Map) Update(name string, fn func(FileTrackingInfo) (FileTrackingInfo, error)) (FileTrackingInfo, error) {
	return m.t.Update(name, fn)
}

func (m *Map) Delete(name string) {
	m.t.Remove(name)
}

// Range calls fn for each entry until fn returns false.
func (m *Map) Range(fn func(name string, info FileTrackingInfo) bool) {
	for name, info := range m.t.Snapshot() {
		if !fn(name, info) {
			return
		}
	}
}

func (m *Map) Len() int {
	return m.t.Len()
}
