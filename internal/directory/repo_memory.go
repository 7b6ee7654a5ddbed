package directory

import (
	"context"
	"sync"
)

// MemoryDirectory is an in-process directory used by tests and local runs.
type MemoryDirectory struct {
	mu       sync.RWMutex
	users    map[string]string             // number -> user id
	contacts map[string]map[string]Contact // user id -> number -> contact
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		users:    map[string]string{},
		contacts: map[string]map[string]Contact{},
	}
}

// AssignNumber routes calls to number to userID.
func (d *MemoryDirectory) AssignNumber(number, userID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[Normalize(number)] = userID
}

func (d *MemoryDirectory) AddContact(c Contact) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c.Number = Normalize(c.Number)
	if d.contacts[c.UserID] == nil {
		d.contacts[c.UserID] = map[string]Contact{}
	}
	d.contacts[c.UserID][c.Number] = c
}

func (d *MemoryDirectory) UserByNumber(_ context.Context, number string) (string, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.users[Normalize(number)]
	return id, ok, nil
}

func (d *MemoryDirectory) ContactByNumber(_ context.Context, userID, number string) (Contact, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.contacts[userID][Normalize(number)]
	return c, ok, nil
}
