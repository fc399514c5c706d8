package voice

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/diamondburned/arivoice/discord"
)

// DirectorySize is the number of SSRCs remembered per session.
var DirectorySize = 256

// directory maps the SSRCs of other users in the channel to their user IDs, as
// learned from Speaking events.
type directory struct {
	*lru.Cache[uint32, discord.UserID]
}

func newDirectory(size int) directory {
	c, err := lru.New[uint32, discord.UserID](size)
	if err != nil {
		// Only possible with a non-positive size.
		c, _ = lru.New[uint32, discord.UserID](1)
	}
	return directory{c}
}

// removeUser forgets every SSRC belonging to the user.
func (d directory) removeUser(userID discord.UserID) {
	for _, ssrc := range d.Keys() {
		if id, ok := d.Peek(ssrc); ok && id == userID {
			d.Remove(ssrc)
		}
	}
}
