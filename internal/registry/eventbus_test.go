package registry

import "testing"

func TestBus_FanOutAndDrop(t *testing.T) {
	b := NewBus()
	a, cancelA := b.Subscribe(1)
	c, cancelC := b.Subscribe(4)
	defer cancelC()

	b.Publish(Event{Name: "one"})
	b.Publish(Event{Name: "two"})

	if e := <-a; e.Name != "one" {
		t.Fatalf("a got %q", e.Name)
	}
	if e := <-c; e.Name != "one" {
		t.Fatalf("c got %q", e.Name)
	}
	if e := <-c; e.Name != "two" {
		t.Fatalf("c got %q", e.Name)
	}
	if b.Dropped() != 1 {
		t.Fatalf("dropped=%d", b.Dropped())
	}

	cancelA()
	cancelA()
	if _, ok := <-a; ok {
		t.Fatalf("channel open after cancel")
	}
	if b.Subscribers() != 1 {
		t.Fatalf("subscribers=%d", b.Subscribers())
	}
	b.Publish(Event{Name: "three"})
}
