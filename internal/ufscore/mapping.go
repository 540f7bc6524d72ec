package ufscore

import "golang.org/x/xerrors"

// mappingSet implements spec.md §4.6. The persisted image format (spec.md
// §6) has no mapping arena, so — unlike files, areas and nodes — mappings
// are pure in-memory state: they do not survive Sync/Release/Open. Two
// indices are kept, per spec.md §9's suggestion, so both enumeration
// directions are at worst O(area's or storage's fanout) rather than O(n).
type mappingSet struct {
	byArea    map[Id]map[Storage]struct{}
	byStorage map[Storage]map[Id]struct{}
}

func newMappingSet() *mappingSet {
	return &mappingSet{
		byArea:    make(map[Id]map[Storage]struct{}),
		byStorage: make(map[Storage]map[Id]struct{}),
	}
}

func (m *mappingSet) Add(area Id, s Storage) error {
	if area == Base {
		return newErr(BadCall, xerrors.New("BASE must not appear in a mapping"))
	}
	if m.Probe(area, s) == nil {
		return newErr(AlreadyExists, nil)
	}
	if m.byArea[area] == nil {
		m.byArea[area] = make(map[Storage]struct{})
	}
	m.byArea[area][s] = struct{}{}
	if m.byStorage[s] == nil {
		m.byStorage[s] = make(map[Id]struct{})
	}
	m.byStorage[s][area] = struct{}{}
	SetErrno(NoError)
	return nil
}

// Probe returns nil if (area, s) is present, else a DoesNotExist error.
func (m *mappingSet) Probe(area Id, s Storage) error {
	if _, ok := m.byArea[area][s]; ok {
		SetErrno(NoError)
		return nil
	}
	return newErr(DoesNotExist, nil)
}

func (m *mappingSet) EnumerateByArea(area Id) []Storage {
	set := m.byArea[area]
	out := make([]Storage, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	return out
}

func (m *mappingSet) EnumerateByStorage(s Storage) []Id {
	set := m.byStorage[s]
	out := make([]Id, 0, len(set))
	for a := range set {
		out = append(out, a)
	}
	return out
}

func (m *mappingSet) removeOne(area Id, s Storage) {
	if set, ok := m.byArea[area]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(m.byArea, area)
		}
	}
	if set, ok := m.byStorage[s]; ok {
		delete(set, area)
		if len(set) == 0 {
			delete(m.byStorage, s)
		}
	}
}

func (m *mappingSet) RemoveByArea(area Id) {
	for s := range m.byArea[area] {
		m.removeOne(area, s)
	}
}

func (m *mappingSet) RemoveByStorage(s Storage) {
	for a := range m.byStorage[s] {
		m.removeOne(a, s)
	}
}

// Size reports the number of mappings currently stored; used by the
// bulk-removal tests.
func (m *mappingSet) Size() int {
	n := 0
	for _, set := range m.byArea {
		n += len(set)
	}
	return n
}
