package lifecycle_test

import (
	"testing"

	"github.com/seantiz/backgrounder/internal/lifecycle"
	"github.com/seantiz/backgrounder/internal/model"
)

func transition(appID string, to model.State) model.Transition {
	return model.Transition{ID: model.NewID(), AppID: appID, To: to}
}

func TestBrokerSingleSubscriber(t *testing.T) {
	b := lifecycle.NewBroker()
	ch, unsub := b.Subscribe("a")
	defer unsub()

	states := []model.State{model.StateTransitioning, model.StateBackgroundActive, model.StateBackgroundSuspended}
	for _, s := range states {
		b.Publish(transition("a", s))
	}
	b.Close()

	var got []model.State
	for tr := range ch {
		got = append(got, tr.To)
	}

	if len(got) != len(states) {
		t.Fatalf("got %d transitions, want %d", len(got), len(states))
	}
	for i, s := range got {
		if s != states[i] {
			t.Errorf("transition[%d] = %s, want %s", i, s, states[i])
		}
	}
}

func TestBrokerTopics(t *testing.T) {
	b := lifecycle.NewBroker()
	chA, unsubA := b.Subscribe("a")
	defer unsubA()
	chAll, unsubAll := b.Subscribe(lifecycle.AllApps)
	defer unsubAll()

	b.Publish(transition("a", model.StateForeground))
	b.Publish(transition("b", model.StateForeground))
	b.Close()

	var gotA, gotAll []string
	for tr := range chA {
		gotA = append(gotA, tr.AppID)
	}
	for tr := range chAll {
		gotAll = append(gotAll, tr.AppID)
	}

	if len(gotA) != 1 || gotA[0] != "a" {
		t.Errorf("app subscriber got %v, want [a]", gotA)
	}
	if len(gotAll) != 2 {
		t.Errorf("all-apps subscriber got %v, want [a b]", gotAll)
	}
}

func TestBrokerUnsubscribeClosesChannel(t *testing.T) {
	b := lifecycle.NewBroker()
	ch, unsub := b.Subscribe("a")
	unsub()

	if _, ok := <-ch; ok {
		t.Error("expected channel to be closed after unsubscribe")
	}

	// Unsubscribing twice and publishing afterwards must not panic.
	unsub()
	b.Publish(transition("a", model.StateForeground))
}

func TestBrokerSubscribeAfterClose(t *testing.T) {
	b := lifecycle.NewBroker()
	b.Close()

	ch, unsub := b.Subscribe("a")
	defer unsub()

	if _, ok := <-ch; ok {
		t.Error("expected closed channel after broker Close")
	}
}

func TestBrokerDropsForSlowSubscriber(t *testing.T) {
	b := lifecycle.NewBroker()
	ch, unsub := b.Subscribe("a")
	defer unsub()

	// Publishing far past the buffer must never block.
	for i := 0; i < 1000; i++ {
		b.Publish(transition("a", model.StateForeground))
	}
	b.Close()

	n := 0
	for range ch {
		n++
	}
	if n == 0 || n >= 1000 {
		t.Errorf("received %d transitions, want some dropped", n)
	}
}
