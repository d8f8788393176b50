package util

import (
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid"
)

var entropy = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
var m sync.Mutex

// NewULID returns a lower-cased, monotonically increasing ULID. Used for message ids.
func NewULID() string {
	m.Lock()
	defer m.Unlock()
	return strings.ToLower(ulid.MustNew(ulid.Now(), entropy).String())
}

// NewToken returns a random (version 4) UUID string.
func NewToken() string {
	return uuid.New().String()
}

// NilUUID is the all-zero UUID, used when no submitter is known.
var NilUUID = uuid.Nil.String()
