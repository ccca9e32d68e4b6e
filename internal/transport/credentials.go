package transport

import (
	"sync"

	"github.com/golang-jwt/jwt/v5"
)

// Credentials holds the process-wide bearer token. Each token value has a
// generation; an authorization failure invalidates only the generation the
// failing request was sent with, so a burst of concurrent 401s expires the
// token once and signals once.
type Credentials struct {
	mu         sync.Mutex
	token      string
	generation uint64
	onExpired  func()
}

func NewCredentials(token string, onExpired func()) *Credentials {
	return &Credentials{
		token:     token,
		onExpired: onExpired,
	}
}

// Token returns the current token and its generation. ok is false when no
// token is held.
func (c *Credentials) Token() (token string, generation uint64, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token, c.generation, c.token != ""
}

// Set installs a freshly issued token.
func (c *Credentials) Set(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
	c.generation++
}

// Invalidate clears the token if it still belongs to generation and fires the
// expiry signal. It reports whether this call performed the invalidation.
func (c *Credentials) Invalidate(generation uint64) bool {
	c.mu.Lock()
	if c.token == "" || generation != c.generation {
		c.mu.Unlock()
		return false
	}
	c.token = ""
	c.generation++
	cb := c.onExpired
	c.mu.Unlock()

	if cb != nil {
		cb()
	}
	return true
}

// Subject reads the operator name from the token's sub claim. The signature
// is not verified here; the store does that on every request.
func (c *Credentials) Subject() string {
	token, _, ok := c.Token()
	if !ok {
		return ""
	}
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return ""
	}
	return claims.Subject
}
