// Package anonymizer produces per-week pseudonymous ids for leaderboard display.
//
// For every week a fresh key is derived with HKDF-SHA256 (salt = week key), and the
// masked id is a keyed BLAKE2b-256 MAC of the user id under that key. The same user
// keeps one id for the whole week; ids of different weeks cannot be linked without
// the secret, and the MAC is not invertible.
package anonymizer

import (
	"crypto/sha256"
	"encoding/base32"
	"errors"
	"io"
	"strings"
	"sync"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/hkdf"

	"github.com/alem-hub/focus-league/internal/domain/shared"
	"github.com/alem-hub/focus-league/pkg/timeutil"
)

const (
	hkdfInfo = "focus-league/masked-id"
	keyLen   = 32
	idBytes  = 8

	// DefaultPrefix marks masked ids so clients never confuse them with user ids.
	DefaultPrefix = "p-"

	// cacheWeeks bounds how many derived week keys are kept.
	cacheWeeks = 8
)

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// ErrEmptySecret is returned when no secret is configured.
var ErrEmptySecret = errors.New("anonymizer: secret must not be empty")

// Anonymizer derives masked ids.
type Anonymizer struct {
	secret []byte
	prefix string

	mu   sync.Mutex
	keys map[timeutil.Date][]byte
}

// New creates an Anonymizer.
func New(secret []byte, prefix string) (*Anonymizer, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}
	s := make([]byte, len(secret))
	copy(s, secret)
	return &Anonymizer{secret: s, prefix: prefix, keys: make(map[timeutil.Date][]byte)}, nil
}

// MaskedID returns the pseudonym of user for week.
func (a *Anonymizer) MaskedID(user shared.UserID, week timeutil.Date) string {
	mac, err := blake2b.New256(a.weekKey(week))
	if err != nil {
		// key length is fixed at 32 bytes, blake2b accepts up to 64
		panic(err)
	}
	mac.Write([]byte(user))
	sum := mac.Sum(nil)
	return a.prefix + strings.ToLower(encoding.EncodeToString(sum[:idBytes]))
}

// MyMaskedID returns the viewer's own pseudonym. It is the only lookup that
// links a user id with a masked id, and it is only served to that user.
func (a *Anonymizer) MyMaskedID(viewer shared.UserID, week timeutil.Date) string {
	return a.MaskedID(viewer, week)
}

func (a *Anonymizer) weekKey(week timeutil.Date) []byte {
	a.mu.Lock()
	defer a.mu.Unlock()

	if k, ok := a.keys[week]; ok {
		return k
	}
	if len(a.keys) >= cacheWeeks {
		clear(a.keys)
	}
	k := make([]byte, keyLen)
	r := hkdf.New(sha256.New, a.secret, []byte(week.String()), []byte(hkdfInfo))
	if _, err := io.ReadFull(r, k); err != nil {
		// HKDF-SHA256 can emit up to 8160 bytes
		panic(err)
	}
	a.keys[week] = k
	return k
}
