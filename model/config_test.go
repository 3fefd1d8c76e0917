package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qwenrun/qwenrun/types/errtypes"
)

func testConfig() Config {
	return Config{
		Dim:        8,
		HiddenDim:  16,
		NumLayers:  2,
		NumHeads:   4,
		NumKVHeads: 2,
		HeadDim:    4,
		VocabSize:  16,
		SeqLen:     8,
		Eps:        1e-6,
		RopeBase:   1e6,
		RopeScale:  1,
	}
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name  string
		fn    func(*Config)
		field string
	}{
		{"valid", func(*Config) {}, ""},
		{"head dim independent of dim", func(c *Config) { c.HeadDim = 6 }, ""},
		{"heads not divisible", func(c *Config) { c.NumKVHeads = 3 }, "n_kv_heads"},
		{"zero kv heads", func(c *Config) { c.NumKVHeads = 0 }, "n_kv_heads"},
		{"odd head dim", func(c *Config) { c.HeadDim = 5 }, "head_dim"},
		{"zero layers", func(c *Config) { c.NumLayers = 0 }, "n_layers"},
		{"negative vocab", func(c *Config) { c.VocabSize = -1 }, "vocab_size"},
		{"zero seq len", func(c *Config) { c.SeqLen = 0 }, "seq_len"},
		{"zero rope base", func(c *Config) { c.RopeBase = 0 }, "rope_base"},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			c := testConfig()
			tt.fn(&c)

			err := c.Validate()
			if tt.field == "" {
				require.NoError(t, err)
				return
			}

			require.ErrorIs(t, err, errtypes.ErrConfig)
			var ce *errtypes.ConfigError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, tt.field, ce.Field)
		})
	}
}

func TestConfigHeads(t *testing.T) {
	c := testConfig()

	assert.Equal(t, 2, c.GroupSize())
	assert.Equal(t, 16, c.QDim())
	assert.Equal(t, 8, c.KVDim())

	var got []int
	for h := range c.NumHeads {
		got = append(got, c.KVHead(h))
	}
	assert.Equal(t, []int{0, 0, 1, 1}, got)

	c.NumKVHeads = c.NumHeads
	for h := range c.NumHeads {
		assert.Equal(t, h, c.KVHead(h))
	}
}

func TestNewRunState(t *testing.T) {
	c := testConfig()
	s := NewRunState(c)

	assert.Len(t, s.X, c.Dim)
	assert.Len(t, s.Q, c.QDim())
	assert.Len(t, s.K, c.KVDim())
	assert.Len(t, s.AttnOut, c.QDim())
	assert.Len(t, s.Att, c.NumHeads*c.SeqLen)
	assert.Len(t, s.HB, c.HiddenDim)
	assert.Len(t, s.Logits, c.VocabSize)
}
