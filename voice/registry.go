package voice

import (
	"sync"

	"github.com/diamondburned/arivoice/discord"
)

// Registry holds the active sessions, keyed by guild. A guild has at most one
// session.
type Registry struct {
	mutex    sync.RWMutex
	sessions map[discord.GuildID]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[discord.GuildID]*Session),
	}
}

// Get gets the session for a guild.
func (r *Registry) Get(guildID discord.GuildID) (*Session, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	s, ok := r.sessions[guildID]
	return s, ok
}

// Len returns the number of sessions.
func (r *Registry) Len() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return len(r.sessions)
}

// Remove removes the session of the guild, returning it if there was one.
func (r *Registry) Remove(guildID discord.GuildID) (*Session, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	s, ok := r.sessions[guildID]
	delete(r.sessions, guildID)
	return s, ok
}

// put adds s unless the guild already has another session.
func (r *Registry) put(guildID discord.GuildID, s *Session) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if old, ok := r.sessions[guildID]; ok && old != s {
		return false
	}

	r.sessions[guildID] = s
	return true
}

// remove removes s only if it's still the guild's session.
func (r *Registry) remove(guildID discord.GuildID, s *Session) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.sessions[guildID] == s {
		delete(r.sessions, guildID)
	}
}
