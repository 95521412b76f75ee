package natives

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCryptoDigests(t *testing.T) {
	h := newHarness(t, nil)

	tests := []struct {
		alg  string
		want string
	}{
		{alg: "md5", want: "900150983cd24fb0d6963f7d28e17f72"},
		{alg: "sha1", want: "a9993e364706816aba3e25717850c26c9cd0d89d"},
		{alg: "sha256", want: "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"},
		{alg: "SHA256", want: "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"},
		{alg: "sha3-256", want: "3a985da74fe225b2045c172d6bd390bd855f086e3e9d525b46bfe24511431532"},
		{alg: "ripemd160", want: "8eb208f7e05d987a9b044a8e98c6b087f15a0bfc"},
	}

	for _, tt := range tests {
		t.Run(tt.alg, func(t *testing.T) {
			assert.Equal(t, tt.want, h.eval(t, "crypto.hash('"+tt.alg+"', 'abc')").String())
			assert.Equal(t, tt.want,
				h.eval(t, "crypto.createHash('"+tt.alg+"').update('a').update(Buffer.from('bc')).digest('hex')").String())
		})
	}
}

func TestCryptoHashLifecycle(t *testing.T) {
	h := newHarness(t, nil)

	assert.Equal(t, true, h.eval(t, `
		const partial = crypto.createHash('sha256').update('ab');
		const fork = partial.copy();
		partial.update('c').digest('hex') === fork.update('c').digest('hex')`).Export())

	assert.Equal(t, int64(32), h.eval(t, "crypto.createHash('sha256').digest().length").ToInteger())
	assert.Equal(t, "ungWv48Bz+pBQUDeXa4iI7ADYaOWF3qctBD/YfIAFa0=",
		h.eval(t, "crypto.createHash('sha256').update('abc').digest('base64')").String())

	assert.Equal(t, "ERR_CRYPTO_HASH_FINALIZED",
		h.code(t, "const done = crypto.createHash('md5'); done.digest(); done.digest()"))
	assert.Equal(t, "ERR_CRYPTO_HASH_FINALIZED", h.code(t, "done.update('x')"))
	assert.Equal(t, "ERR_CRYPTO_INVALID_DIGEST", h.code(t, "crypto.createHash('whirlpool')"))
	assert.Equal(t, "ERR_INVALID_ARG_TYPE", h.code(t, "crypto.createHash('sha1').update(42)"))
	assert.Equal(t, "undefined", h.eval(t, "typeof crypto.createHmac('sha1', 'k').copy").String())
}

func TestCryptoHmacAndKeyDerivation(t *testing.T) {
	h := newHarness(t, nil)

	assert.Equal(t, "5bdcc146bf60754e6a042426089575c75a003f089d2739839dec58b964ec3843",
		h.eval(t, "crypto.createHmac('sha256', 'Jefe').update('what do ya want for nothing?').digest('hex')").String())

	assert.Equal(t, "0c60c80f961f0e71f3a9b524af6012062fe037a6",
		h.eval(t, "crypto.pbkdf2Sync('password', 'salt', 1, 20, 'sha1').toString('hex')").String())
	assert.Equal(t, "ERR_OUT_OF_RANGE", h.code(t, "crypto.pbkdf2Sync('p', 's', 0, 20, 'sha1')"))

	assert.Equal(t,
		"3cb25f25faacd57a90434f64d0362f2a2d2d0a90cf1a5a4c5db02d56ecc4c5bf34007208d5b887185865",
		h.eval(t, `
			const okm = crypto.hkdfSync('sha256',
				Buffer.alloc(22, 0x0b),
				Buffer.from('000102030405060708090a0b0c', 'hex'),
				Buffer.from('f0f1f2f3f4f5f6f7f8f9', 'hex'),
				42);
			(okm instanceof ArrayBuffer ? '' : 'not an ArrayBuffer:') + Buffer.from(okm).toString('hex')`).String())
	assert.Equal(t, "ERR_CRYPTO_INVALID_KEYLEN", h.code(t, "crypto.hkdfSync('sha256', 'k', '', '', 255 * 32 + 1)"))
}

func TestCryptoRandomAndComparison(t *testing.T) {
	h := newHarness(t, nil)

	assert.Equal(t, "16,false", h.eval(t, `
		const r1 = crypto.randomBytes(16), r2 = crypto.randomBytes(16);
		[r1.length, r1.equals(r2)].join(',')`).String())
	assert.Regexp(t, `^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`,
		h.eval(t, "crypto.randomUUID()").String())
	assert.Equal(t, "ERR_OUT_OF_RANGE", h.code(t, "crypto.randomBytes(-1)"))

	assert.Equal(t, "true,false", h.eval(t,
		"[crypto.timingSafeEqual(Buffer.from('abc'), Buffer.from('abc')), crypto.timingSafeEqual('abc', 'abd')].join(',')").String())
	assert.Equal(t, "ERR_CRYPTO_TIMING_SAFE_EQUAL_LENGTH", h.code(t, "crypto.timingSafeEqual('a', 'ab')"))

	hashes := h.eval(t, "crypto.getHashes()").Export()
	assert.Contains(t, hashes, "sha256")
	assert.Contains(t, hashes, "ripemd160")
	assert.Contains(t, hashes, "blake2b512")
}

func pemKeys(t *testing.T, priv any) (string, string) {
	t.Helper()
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	require.NoError(t, err)
	signer := priv.(crypto.Signer)
	pub, err := x509.MarshalPKIXPublicKey(signer.Public())
	require.NoError(t, err)
	return string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})),
		string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pub}))
}

func TestCryptoSignVerify(t *testing.T) {
	_, edKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tests := []struct {
		name string
		key  any
		alg  string
	}{
		{name: "ed25519", key: edKey, alg: "null"},
		{name: "rsa", key: rsaKey, alg: "'RSA-SHA256'"},
		{name: "ecdsa", key: ecKey, alg: "'sha384'"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			priv, pub := pemKeys(t, tt.key)
			require.NoError(t, h.vm.Set("privateKey", priv))
			require.NoError(t, h.vm.Set("publicKey", pub))

			assert.Equal(t, "true,true,false", h.eval(t, `
				const sig = crypto.sign(`+tt.alg+`, Buffer.from('payload'), privateKey);
				[
					crypto.verify(`+tt.alg+`, 'payload', publicKey, sig),
					crypto.verify(`+tt.alg+`, 'payload', privateKey, sig),
					crypto.verify(`+tt.alg+`, 'tampered', publicKey, sig),
				].join(',')`).String())
		})
	}

	h := newHarness(t, nil)
	assert.Equal(t, "ERR_INVALID_ARG_VALUE", h.code(t, "crypto.sign('sha256', 'x', 'not a key')"))
}
