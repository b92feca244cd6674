package credential_test

import (
	"errors"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/authstress/internal/credential"
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]{3,32}$`)

func newGenerator(t *testing.T, cfg credential.Config, opts ...credential.Option) *credential.Generator {
	t.Helper()
	g, err := credential.NewGenerator(cfg, opts...)
	require.NoError(t, err)
	return g
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		cfg       credential.Config
		wantField []string
	}{
		{"default", credential.DefaultConfig(), nil},
		{"fixed length", credential.Config{PasswordMinLength: 12, PasswordMaxLength: 12, MemorableRatio: 1}, nil},
		{"min too short", credential.Config{PasswordMinLength: 4, PasswordMaxLength: 20}, []string{"passwordMinLength"}},
		{"min above max", credential.Config{PasswordMinLength: 20, PasswordMaxLength: 10}, []string{"passwordMaxLength"}},
		{"ratio negative", credential.Config{PasswordMinLength: 8, PasswordMaxLength: 8, MemorableRatio: -0.1}, []string{"memorableRatio"}},
		{"ratio above one", credential.Config{PasswordMinLength: 8, PasswordMaxLength: 8, MemorableRatio: 1.5}, []string{"memorableRatio"}},
		{
			"several problems",
			credential.Config{PasswordMinLength: 2, PasswordMaxLength: 1, MemorableRatio: 2},
			[]string{"passwordMinLength", "passwordMaxLength", "memorableRatio"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if len(tt.wantField) == 0 {
				assert.NoError(t, err)
				return
			}

			require.Error(t, err)
			var cfgErr *credential.ConfigError
			assert.True(t, errors.As(err, &cfgErr), "error should unwrap to *ConfigError")
			for _, field := range tt.wantField {
				assert.Contains(t, err.Error(), field)
			}
		})
	}
}

func TestNewGenerator_RejectsInvalidConfig(t *testing.T) {
	_, err := credential.NewGenerator(credential.Config{PasswordMinLength: 30, PasswordMaxLength: 10})
	require.Error(t, err)

	_, err = credential.NewGenerator(credential.DefaultConfig(), credential.WithNonce("__--"))
	require.Error(t, err)
}

func TestGenerate_PasswordLengthWithinBounds(t *testing.T) {
	tests := []struct {
		name string
		cfg  credential.Config
	}{
		{"default", credential.DefaultConfig()},
		{"memorable only", credential.Config{PasswordMinLength: 8, PasswordMaxLength: 40, MemorableRatio: 1}},
		{"random only", credential.Config{PasswordMinLength: 8, PasswordMaxLength: 40, MemorableRatio: 0}},
		{"fixed", credential.Config{PasswordMinLength: 16, PasswordMaxLength: 16, MemorableRatio: 0.5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newGenerator(t, tt.cfg, credential.WithSeed(42))
			for i := 0; i < 2000; i++ {
				c := g.Generate()
				if n := len(c.Password); n < tt.cfg.PasswordMinLength || n > tt.cfg.PasswordMaxLength {
					t.Fatalf("password %q has length %d, want within [%d, %d]",
						c.Password, n, tt.cfg.PasswordMinLength, tt.cfg.PasswordMaxLength)
				}
			}
		})
	}
}

func TestGenerate_PasswordModes(t *testing.T) {
	memorable := newGenerator(t, credential.Config{PasswordMinLength: 8, PasswordMaxLength: 30, MemorableRatio: 1}, credential.WithSeed(7))
	for i := 0; i < 200; i++ {
		pw := memorable.Generate().Password
		assert.Equal(t, strings.ToLower(pw), pw, "memorable passwords are lower case")
	}

	random := newGenerator(t, credential.Config{PasswordMinLength: 8, PasswordMaxLength: 30, MemorableRatio: 0}, credential.WithSeed(7))
	for i := 0; i < 200; i++ {
		pw := random.Generate().Password
		for _, c := range pw {
			if c < 0x21 || c > 0x7e {
				t.Fatalf("random password %q contains non-printable character %q", pw, c)
			}
		}
	}
}

func TestGenerate_UsernamesValidAndUnique(t *testing.T) {
	g := newGenerator(t, credential.DefaultConfig(), credential.WithSeed(1))

	seen := make(map[string]struct{}, 10000)
	for i := 0; i < 10000; i++ {
		c := g.Generate()
		if !usernamePattern.MatchString(c.Username) {
			t.Fatalf("username %q does not match %s", c.Username, usernamePattern)
		}
		if _, dup := seen[c.Username]; dup {
			t.Fatalf("duplicate username %q after %d generations", c.Username, i)
		}
		seen[c.Username] = struct{}{}
	}
}

func TestGenerate_UniqueUnderConcurrency(t *testing.T) {
	g := newGenerator(t, credential.DefaultConfig())

	const workers, perWorker = 16, 500
	var (
		mu   sync.Mutex
		seen = make(map[string]struct{}, workers*perWorker)
		wg   sync.WaitGroup
	)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]string, 0, perWorker)
			for i := 0; i < perWorker; i++ {
				local = append(local, g.Generate().Username)
			}
			mu.Lock()
			for _, u := range local {
				seen[u] = struct{}{}
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, workers*perWorker)
}

func TestGenerate_Deterministic(t *testing.T) {
	a := newGenerator(t, credential.DefaultConfig(), credential.WithSeed(99), credential.WithNonce("abc123"))
	b := newGenerator(t, credential.DefaultConfig(), credential.WithSeed(99), credential.WithNonce("abc123"))

	for i := 0; i < 50; i++ {
		assert.Equal(t, a.Generate(), b.Generate())
	}
}

func TestGenerate_SeedFixesUsernames(t *testing.T) {
	a := newGenerator(t, credential.DefaultConfig(), credential.WithSeed(99))
	b := newGenerator(t, credential.DefaultConfig(), credential.WithSeed(99))
	other := newGenerator(t, credential.DefaultConfig(), credential.WithSeed(100))

	for i := 0; i < 20; i++ {
		ca, cb, co := a.Generate(), b.Generate(), other.Generate()
		assert.Equal(t, ca, cb)
		assert.NotEqual(t, ca.Username, co.Username)
	}
}

func TestGenerate_NonceOverridesSeed(t *testing.T) {
	for name, opts := range map[string][]credential.Option{
		"nonce first": {credential.WithNonce("fixed1"), credential.WithSeed(5)},
		"seed first":  {credential.WithSeed(5), credential.WithNonce("fixed1")},
	} {
		t.Run(name, func(t *testing.T) {
			g := newGenerator(t, credential.DefaultConfig(), opts...)
			c := g.Generate()
			assert.True(t, strings.HasSuffix(c.Username, "_fixed11"), "username %q", c.Username)
		})
	}
}

func TestGenerate_NonceInUsername(t *testing.T) {
	g := newGenerator(t, credential.DefaultConfig(), credential.WithNonce("Run-42xyz!"))

	c := g.Generate()
	// "Run-42xyz!" reduces to "un42xy" after filtering and truncation.
	assert.True(t, strings.HasSuffix(c.Username, "_un42xy1"), "username %q", c.Username)
	assert.NotEmpty(t, c.DisplayName)
}
