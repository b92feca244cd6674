package credential

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
)

const (
	randomAlphabet    = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!@#$%&*+-_=?"
	memorableAlphabet = "abcdefghijklmnopqrstuvwxyz"
	wordSeparator     = '-'
	nonceLength       = 6

	// fakerAttempts bounds how often the faker is asked for a value before
	// the generator builds one itself.
	fakerAttempts = 3
)

// Credential is one synthetic identity. It is generated once per
// iteration and never modified afterwards.
type Credential struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

// Generator produces credentials that satisfy the target service's
// acceptance rules.
//
// Usernames have the form <letters>_<nonce><seq>. The letters come from the
// faker and never contain an underscore, so the suffix after the only
// underscore identifies the credential: within one Generator no username
// repeats, and the per-run nonce keeps separate processes apart.
//
// Generator is safe for concurrent use.
type Generator struct {
	cfg Config

	mu    sync.Mutex
	faker *gofakeit.Faker
	rng   *rand.Rand
	nonce string
	seq   uint64

	nonceFixed bool
}

// Option configures a Generator.
type Option func(*Generator)

// WithSeed makes generation deterministic, usernames included. Unless
// WithNonce is also given, the nonce is derived from the seed, so processes
// sharing one credential pool need distinct seeds.
func WithSeed(seed uint64) Option {
	return func(g *Generator) {
		g.faker = gofakeit.New(seed)
		g.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
		if !g.nonceFixed {
			g.nonce = seededNonce(seed)
		}
	}
}

// WithNonce fixes the per-run username nonce. Characters outside [0-9a-z]
// are dropped and the result is cut to six characters.
func WithNonce(nonce string) Option {
	return func(g *Generator) {
		g.nonce = nonce
		g.nonceFixed = true
	}
}

// seededNonce draws the nonce from its own stream so that it does not shift
// the password draws of the same seed.
func seededNonce(seed uint64) string {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	r := rand.New(rand.NewPCG(seed^0x5851f42d4c957f2d, seed))
	b := make([]byte, nonceLength)
	for i := range b {
		b[i] = alphabet[r.IntN(len(alphabet))]
	}
	return string(b)
}

// NewGenerator creates a Generator. Invalid settings are reported here so
// that they surface once at setup and never per iteration.
func NewGenerator(cfg Config, opts ...Option) (*Generator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	g := &Generator{
		cfg:   cfg,
		faker: gofakeit.New(0),
		rng:   rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		nonce: strings.ReplaceAll(uuid.NewString(), "-", "")[:nonceLength],
	}

	for _, opt := range opts {
		opt(g)
	}

	g.nonce = keepLowerAlnum(g.nonce)
	if g.nonce == "" {
		return nil, &ConfigError{Field: "nonce", Message: "must contain at least one character in [0-9a-z]"}
	}
	if len(g.nonce) > nonceLength {
		g.nonce = g.nonce[:nonceLength]
	}

	return g, nil
}

// Config returns the generator settings.
func (g *Generator) Config() Config {
	return g.cfg
}

// Generate returns a fresh credential. It always succeeds.
func (g *Generator) Generate() Credential {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.seq++

	return Credential{
		Username:    g.username(),
		Password:    g.password(),
		DisplayName: g.displayName(),
	}
}

func (g *Generator) username() string {
	suffix := "_" + g.nonce + strconv.FormatUint(g.seq, 36)

	base := ""
	for attempt := 0; attempt < fakerAttempts && base == ""; attempt++ {
		base = keepLetters(g.faker.Username())
	}
	if base == "" {
		base = "user"
	}

	if room := MaxUsernameLength - len(suffix); len(base) > room {
		base = base[:room]
	}

	return base + suffix
}

func (g *Generator) password() string {
	length := g.cfg.PasswordMinLength
	if span := g.cfg.PasswordMaxLength - g.cfg.PasswordMinLength; span > 0 {
		length += g.rng.IntN(span + 1)
	}

	if g.rng.Float64() < g.cfg.MemorableRatio {
		return g.memorablePassword(length)
	}
	return g.randomPassword(length)
}

// memorablePassword joins lowercase dictionary words, e.g. "river-candle-moss".
func (g *Generator) memorablePassword(length int) string {
	var b strings.Builder
	b.Grow(length + 16)

	misses := 0
	for b.Len() < length {
		word := strings.ToLower(keepLetters(g.faker.Word()))
		if word == "" {
			misses++
			if misses >= fakerAttempts {
				break
			}
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(wordSeparator)
		}
		b.WriteString(word)
	}

	return g.fit(b.String(), length, memorableAlphabet)
}

func (g *Generator) randomPassword(length int) string {
	for attempt := 0; attempt < fakerAttempts; attempt++ {
		pw := g.faker.Password(true, true, true, true, false, length)
		if len(pw) == length && isPrintableASCII(pw) {
			return pw
		}
	}
	return g.fit("", length, randomAlphabet)
}

// fit trims s, or pads it from alphabet, to exactly length bytes.
func (g *Generator) fit(s string, length int, alphabet string) string {
	if len(s) >= length {
		return s[:length]
	}

	var b strings.Builder
	b.Grow(length)
	b.WriteString(s)
	for b.Len() < length {
		b.WriteByte(alphabet[g.rng.IntN(len(alphabet))])
	}
	return b.String()
}

func (g *Generator) displayName() string {
	if name := strings.TrimSpace(g.faker.Name()); name != "" {
		return name
	}
	return fmt.Sprintf("Load Tester %d", g.seq)
}

func keepLetters(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') {
			b.WriteByte(c)
		}
	}
	return b.String()
}

func keepLowerAlnum(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') {
			b.WriteByte(c)
		}
	}
	return b.String()
}

func isPrintableASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 0x21 || s[i] > 0x7e {
			return false
		}
	}
	return true
}
