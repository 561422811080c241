// Package roster derives the "who is online" list that the host broadcasts.
package roster

// PlaceholderName labels a connection whose participant has not announced
// itself yet.
const PlaceholderName = "Guest"

// User is one entry of the online list.
type User struct {
	Name   string `json:"name"`
	IsHost bool   `json:"isHost"`
}

type entry struct {
	connID string
	name   string
}

// Roster tracks the host's own name and its open guest connections in the
// order they opened. It is not safe for concurrent use; the session loop owns
// it.
type Roster struct {
	hostName string
	entries  []entry
	users    []User
}

// New returns a roster that contains only the host.
func New(hostName string) *Roster {
	r := &Roster{hostName: hostName}
	r.rebuild()
	return r
}

// SetHostName changes the local participant's display name.
func (r *Roster) SetHostName(name string) {
	r.hostName = name
	r.rebuild()
}

// Open adds a connection whose participant is not known yet.
func (r *Roster) Open(connID string) {
	if r.index(connID) >= 0 {
		return
	}
	r.entries = append(r.entries, entry{connID: connID})
	r.rebuild()
}

// Announce records the display name of an open connection. It reports false
// when connID is not open.
func (r *Roster) Announce(connID, name string) bool {
	i := r.index(connID)
	if i < 0 {
		return false
	}
	r.entries[i].name = name
	r.rebuild()
	return true
}

// Close removes a connection. It reports false when connID was not open.
func (r *Roster) Close(connID string) bool {
	i := r.index(connID)
	if i < 0 {
		return false
	}
	r.entries = append(r.entries[:i], r.entries[i+1:]...)
	r.rebuild()
	return true
}

// Users returns a copy of the current online list, host first.
func (r *Roster) Users() []User {
	return append([]User(nil), r.users...)
}

// Count returns the number of online participants including the host.
func (r *Roster) Count() int {
	return len(r.users)
}

func (r *Roster) index(connID string) int {
	for i, e := range r.entries {
		if e.connID == connID {
			return i
		}
	}
	return -1
}

// rebuild recomputes the list from scratch instead of patching it.
func (r *Roster) rebuild() {
	users := make([]User, 0, len(r.entries)+1)
	users = append(users, User{Name: r.hostName, IsHost: true})
	for _, e := range r.entries {
		name := e.name
		if name == "" {
			name = PlaceholderName
		}
		users = append(users, User{Name: name})
	}
	r.users = users
}
