package module_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/mtarek-dev/partyhost/pkg/module"
	"github.com/mtarek-dev/partyhost/pkg/state"
)

type stubModule struct {
	module.Base
	id string
	ns string
}

func (m *stubModule) ID() string                            { return m.id }
func (m *stubModule) Namespace() string                     { return m.ns }
func (m *stubModule) DefaultSettings() state.Settings       { return state.Settings{} }
func (m *stubModule) SerializeRoom(*state.Room, uuid.UUID) any { return nil }

func TestRegistryLookup(t *testing.T) {
	r := module.NewRegistry()
	r.Register(&stubModule{id: "quiz", ns: "quiz-ns"})

	if _, ok := r.Get("quiz"); !ok {
		t.Error("expected lookup by id")
	}
	if _, ok := r.ByNamespace("quiz-ns"); !ok {
		t.Error("expected lookup by namespace")
	}
	if _, ok := r.Get("nope"); ok {
		t.Error("unknown id should miss")
	}
	if ids := r.IDs(); len(ids) != 1 || ids[0] != "quiz" {
		t.Errorf("unexpected IDs: %v", ids)
	}
}

func TestRegistryDuplicatePanics(t *testing.T) {
	r := module.NewRegistry()
	r.Register(&stubModule{id: "quiz", ns: "a"})

	defer func() {
		if recover() == nil {
			t.Error("duplicate module id should panic at startup")
		}
	}()
	r.Register(&stubModule{id: "quiz", ns: "b"})
}
