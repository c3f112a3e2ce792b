package devnode

import "testing"

func TestTopicManager(t *testing.T) {
	tm := NewTopicManager()

	heads := tm.GetTopic("heads")
	if tm.GetTopic("heads") != heads {
		t.Fatal("GetTopic returned a different topic for the same name")
	}
	if heads.Name() != "heads" {
		t.Errorf("Name() = %q", heads.Name())
	}

	heads.add(&subscriber{id: "a"})
	heads.add(&subscriber{id: "b"})
	tm.GetTopic("finalized").add(&subscriber{id: "c"})

	if heads.Count() != 2 {
		t.Errorf("Count() = %d, want 2", heads.Count())
	}
	if got := len(tm.Topics()); got != 2 {
		t.Errorf("Topics() has %d names, want 2", got)
	}

	if !tm.Leave("c") {
		t.Error("Leave(c) = false")
	}
	if tm.Leave("c") {
		t.Error("second Leave(c) = true")
	}
	if got := len(tm.subscribersOf("heads")); got != 2 {
		t.Errorf("heads has %d subscribers, want 2", got)
	}
	if tm.subscribersOf("missing") != nil {
		t.Error("unknown topic should have no subscribers")
	}
}
