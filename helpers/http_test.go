package helpers

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomProfileHeaders(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 1))
	for i := 0; i < 20; i++ {
		h := RandomProfile(rng, "zh-HK,zh;q=0.9").Header()
		assert.NotEmpty(t, h.Get("User-Agent"))
		assert.NotEmpty(t, h.Get("Accept"))
		assert.NotEmpty(t, h.Get("Referer"))
		assert.Equal(t, "zh-HK,zh;q=0.9", h.Get("Accept-Language"))
	}
}

func TestDecodeBodyUTF8(t *testing.T) {
	body := []byte("<html><body>太古城</body></html>")
	out, err := DecodeBody(body, "text/html; charset=utf-8")
	require.NoError(t, err)
	assert.Equal(t, body, out)
}

func TestDecodeBodyBig5(t *testing.T) {
	// "太古" in Big5
	body := []byte{0xa4, 0xd3, 0xa5, 0x6a}
	out, err := DecodeBody(body, "text/html; charset=big5")
	require.NoError(t, err)
	assert.Equal(t, "太古", string(out))
}

func TestDecodeBodyLatin1(t *testing.T) {
	out, err := DecodeBody([]byte("caf\xe9"), "text/html; charset=iso-8859-1")
	require.NoError(t, err)
	assert.Equal(t, "café", string(out))
}

func TestDecodeBodyJSONUntouched(t *testing.T) {
	body := []byte(`{"name":"太古城"}`)
	out, err := DecodeBody(body, "application/json")
	require.NoError(t, err)
	assert.Equal(t, body, out)
}
