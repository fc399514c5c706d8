package voice

import (
	"testing"

	"github.com/diamondburned/arivoice/discord"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	a, b := NewSession(nil), NewSession(nil)

	if !r.put(1, a) {
		t.Fatal("failed to put into an empty registry")
	}
	if !r.put(1, a) {
		t.Fatal("putting the same session again failed")
	}
	if r.put(1, b) {
		t.Fatal("another session took over the guild")
	}

	// Only the owner can remove itself.
	r.remove(1, b)
	if s, ok := r.Get(1); !ok || s != a {
		t.Fatal("session removed by another session")
	}

	r.remove(1, a)
	if r.Len() != 0 {
		t.Fatal("session not removed")
	}

	r.put(2, b)
	if s, ok := r.Remove(2); !ok || s != b {
		t.Fatal("Remove did not return the session")
	}
	if _, ok := r.Remove(2); ok {
		t.Fatal("Remove returned a session twice")
	}
}

func TestDirectory(t *testing.T) {
	d := newDirectory(2)

	d.Add(1, 100)
	d.Add(2, 100)
	d.Add(3, 200)

	// The oldest entry is evicted.
	if _, ok := d.Get(1); ok {
		t.Fatal("directory grew past its size")
	}

	d.removeUser(100)

	if _, ok := d.Get(2); ok {
		t.Fatal("user's SSRC not removed")
	}
	if id, ok := d.Get(3); !ok || id != discord.UserID(200) {
		t.Fatal("other user removed:", id, ok)
	}

	if newDirectory(0).Len() != 0 {
		t.Fatal("zero-sized directory is not empty")
	}
}
