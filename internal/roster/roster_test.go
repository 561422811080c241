package roster

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRosterHostOnly(t *testing.T) {
	r := New("Alice")
	assert.Equal(t, []User{{Name: "Alice", IsHost: true}}, r.Users())
	assert.Equal(t, 1, r.Count())
}

func TestRosterOpenAnnounceClose(t *testing.T) {
	r := New("host")

	r.Open("c1")
	assert.Equal(t, []User{{Name: "host", IsHost: true}, {Name: PlaceholderName}}, r.Users())

	assert.True(t, r.Announce("c1", "guest1"))
	r.Open("c2")
	assert.True(t, r.Announce("c2", "guest2"))
	assert.Equal(t, []User{
		{Name: "host", IsHost: true},
		{Name: "guest1"},
		{Name: "guest2"},
	}, r.Users())
	assert.Equal(t, 3, r.Count())

	assert.True(t, r.Close("c1"))
	assert.Equal(t, []User{{Name: "host", IsHost: true}, {Name: "guest2"}}, r.Users())
	assert.Equal(t, 2, r.Count())

	assert.False(t, r.Close("c1"))
	assert.False(t, r.Announce("c1", "late"))
}

func TestRosterRenameDoesNotDuplicate(t *testing.T) {
	r := New("Alice")
	r.Open("c1")
	r.Announce("c1", "Bob")
	r.Announce("c1", "Robert")
	r.SetHostName("Alicia")

	assert.Equal(t, []User{{Name: "Alicia", IsHost: true}, {Name: "Robert"}}, r.Users())
}

func TestRosterUsersIsCopy(t *testing.T) {
	r := New("host")
	users := r.Users()
	users[0].Name = "mutated"
	assert.Equal(t, "host", r.Users()[0].Name)
}

func TestRosterOpenTwice(t *testing.T) {
	r := New("host")
	r.Open("c1")
	r.Open("c1")
	assert.Equal(t, 2, r.Count())
}
