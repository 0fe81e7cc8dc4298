package fingerprinter

import (
	"errors"
	"testing"

	"github.com/audiolibrelab/echoid/internal/recognition"
)

func TestLoop_PreservesOrder(t *testing.T) {
	l := NewLoop(4)

	var got []int
	for i := 0; i < 1000; i++ {
		i := i
		l.Post(func() { got = append(got, i) })
	}
	l.Close()

	if len(got) != 1000 {
		t.Fatalf("Expected 1000 tasks, got %d", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("Task %d ran out of order (got %d)", i, v)
		}
	}
}

func TestLoop_PostAfterCloseIsDropped(t *testing.T) {
	l := NewLoop(1)
	l.Close()

	ran := false
	l.Post(func() { ran = true })
	l.Close()

	if ran {
		t.Error("Expected task posted after Close to be dropped")
	}
}

func TestInline_RunsImmediately(t *testing.T) {
	ran := false
	Inline{}.Post(func() { ran = true })
	if !ran {
		t.Error("Expected inline task to run before Post returns")
	}
}

func TestListeners_FanOutInOrder(t *testing.T) {
	var order []string
	mk := func(name string) Listener {
		return ListenerFuncs{
			OnDidFindMatchForCode: func(m recognition.Match, code string) {
				order = append(order, name+":"+m.Title()+":"+code)
			},
			OnDidFailWithError: func(err error) {
				order = append(order, name+":"+err.Error())
			},
		}
	}

	ls := Listeners{mk("a"), NopListener{}, mk("b")}
	ls.DidFindMatchForCode(recognition.Match{"title": "Teardrop"}, "c1")
	ls.DidFailWithError(errors.New("boom"))
	ls.DidFinishListening()

	expected := []string{"a:Teardrop:c1", "b:Teardrop:c1", "a:boom", "b:boom"}
	if len(order) != len(expected) {
		t.Fatalf("Expected %v, got %v", expected, order)
	}
	for i := range expected {
		if order[i] != expected[i] {
			t.Errorf("Expected %v, got %v", expected, order)
			break
		}
	}
}
