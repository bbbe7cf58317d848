// Package appinfo resolves the owner of a captured connection to a display
// name and icon for conversation headers.
package appinfo

import (
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"
)

// App is what a header shows for the owner of a connection.
type App struct {
	UID  uint32
	Name string
	Icon string // path to an icon file, empty when none
}

// Resolver maps a uid to app metadata.
type Resolver interface {
	ResolveApp(uid uint32) (App, bool)
}

// DefaultTTL is how long a lookup, including a failed one, is reused.
const DefaultTTL = 5 * time.Minute

// faceFile is the freedesktop per-user avatar.
const faceFile = ".face"

type cached struct {
	app App
	ok  bool
}

// UserResolver resolves uids through the system user database.
type UserResolver struct {
	cache  *cache.Cache
	lookup func(uid string) (*user.User, error)
	stat   func(name string) (os.FileInfo, error)
}

// NewUserResolver returns a resolver caching results for ttl.
func NewUserResolver(ttl time.Duration) *UserResolver {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &UserResolver{
		cache:  cache.New(ttl, 2*ttl),
		lookup: user.LookupId,
		stat:   os.Stat,
	}
}

func (r *UserResolver) ResolveApp(uid uint32) (App, bool) {
	key := strconv.FormatUint(uint64(uid), 10)
	if v, found := r.cache.Get(key); found {
		c := v.(cached)
		return c.app, c.ok
	}

	c := r.resolve(uid, key)
	r.cache.SetDefault(key, c)
	return c.app, c.ok
}

func (r *UserResolver) resolve(uid uint32, key string) cached {
	u, err := r.lookup(key)
	if err != nil {
		return cached{}
	}
	app := App{UID: uid, Name: u.Username}
	if u.Name != "" {
		app.Name = u.Name
	}
	if u.HomeDir != "" {
		face := filepath.Join(u.HomeDir, faceFile)
		if _, err := r.stat(face); err == nil {
			app.Icon = face
		}
	}
	return cached{app: app, ok: true}
}

// Len is the number of cached lookups.
func (r *UserResolver) Len() int {
	return r.cache.ItemCount()
}
