package natives

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"crypto/subtle"
	"crypto/x509"
	"encoding"
	"encoding/pem"
	"errors"
	"hash"
	"io"
	"strings"

	"github.com/dop251/goja"
	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"
)

// Digests usable by sign and verify
var signatureHashes = map[string]crypto.Hash{
	"sha1":   crypto.SHA1,
	"sha224": crypto.SHA224,
	"sha256": crypto.SHA256,
	"sha384": crypto.SHA384,
	"sha512": crypto.SHA512,
}

const maxRandomBytes = 1 << 31

func (b *Binding) installCrypto() error {
	obj := b.vm.NewObject()
	fns := map[string]func(goja.FunctionCall) goja.Value{
		"createHash":      b.cryptoCreateHash,
		"createHmac":      b.cryptoCreateHmac,
		"hash":            b.cryptoHash,
		"getHashes":       b.cryptoGetHashes,
		"randomBytes":     b.cryptoRandomBytes,
		"randomUUID":      b.cryptoRandomUUID,
		"timingSafeEqual": b.cryptoTimingSafeEqual,
		"pbkdf2Sync":      b.cryptoPbkdf2,
		"hkdfSync":        b.cryptoHkdf,
		"sign":            b.cryptoSign,
		"verify":          b.cryptoVerify,
	}
	for name, fn := range fns {
		if err := obj.Set(name, fn); err != nil {
			return err
		}
	}
	return b.vm.Set("crypto", obj)
}

func (b *Binding) hashFactory(op string, v goja.Value) HashFactory {
	if !isString(v) {
		b.throwType(op, `The "algorithm" argument must be of type string. Received %s`, describeArg(v))
	}
	factory, ok := LookupHash(v.String())
	if !ok {
		b.throwCode(b.errorCtor, "ERR_CRYPTO_INVALID_DIGEST", "Invalid digest: %s", v.String())
	}
	return factory
}

// digestResult renders a digest as a Buffer, or as text when an encoding
// other than "buffer" is given
func (b *Binding) digestResult(op string, sum []byte, encoding goja.Value) goja.Value {
	if !isSet(encoding) || strings.EqualFold(encoding.String(), "buffer") {
		return b.newBuffer(sum)
	}
	return b.vm.ToValue(encodeBytes(sum, b.encodingArg(op, encoding, "hex")))
}

// hashObject returns a guest Hash or Hmac. The hash state is held by the
// object's closures. factory is nil for states that cannot be copied.
func (b *Binding) hashObject(kind string, factory HashFactory, h hash.Hash) *goja.Object {
	obj := b.vm.NewObject()
	finalized := false
	checkOpen := func() {
		if finalized {
			b.throwCode(b.errorCtor, "ERR_CRYPTO_HASH_FINALIZED", "Digest already called")
		}
	}

	_ = obj.Set("update", func(call goja.FunctionCall) goja.Value {
		checkOpen()
		enc := b.encodingArg(kind+".update", call.Argument(1), "utf8")
		h.Write(b.bytesOf(kind+".update", "data", call.Argument(0), enc))
		return call.This
	})
	_ = obj.Set("digest", func(call goja.FunctionCall) goja.Value {
		checkOpen()
		finalized = true
		return b.digestResult(kind+".digest", h.Sum(nil), call.Argument(0))
	})
	if factory != nil {
		_ = obj.Set("copy", func(goja.FunctionCall) goja.Value {
			checkOpen()
			clone, err := cloneHash(factory, h)
			if err != nil {
				b.throwCode(b.errorCtor, "ERR_METHOD_NOT_IMPLEMENTED", "%s state cannot be copied: %v", kind, err)
			}
			return b.hashObject(kind, factory, clone)
		})
	}
	return obj
}

// cloneHash duplicates a hash state through its binary marshaling
func cloneHash(factory HashFactory, h hash.Hash) (hash.Hash, error) {
	m, ok := h.(encoding.BinaryMarshaler)
	if !ok {
		return nil, errors.New("hash state is not marshalable")
	}
	state, err := m.MarshalBinary()
	if err != nil {
		return nil, err
	}
	clone := factory()
	u, ok := clone.(encoding.BinaryUnmarshaler)
	if !ok {
		return nil, errors.New("hash state is not unmarshalable")
	}
	if err := u.UnmarshalBinary(state); err != nil {
		return nil, err
	}
	return clone, nil
}

// crypto.createHash(algorithm)
func (b *Binding) cryptoCreateHash(call goja.FunctionCall) goja.Value {
	factory := b.hashFactory("createHash", call.Argument(0))
	return b.hashObject("Hash", factory, factory())
}

// crypto.createHmac(algorithm, key)
func (b *Binding) cryptoCreateHmac(call goja.FunctionCall) goja.Value {
	factory := b.hashFactory("createHmac", call.Argument(0))
	key := b.bytesOf("createHmac", "key", call.Argument(1), "utf8")
	return b.hashObject("Hmac", nil, hmac.New(factory, key))
}

// crypto.hash(algorithm, data[, outputEncoding]) is the one-shot digest;
// its output defaults to hex
func (b *Binding) cryptoHash(call goja.FunctionCall) goja.Value {
	factory := b.hashFactory("hash", call.Argument(0))
	h := factory()
	h.Write(b.bytesOf("hash", "data", call.Argument(1), "utf8"))
	enc := call.Argument(2)
	if !isSet(enc) {
		enc = b.vm.ToValue("hex")
	}
	return b.digestResult("hash", h.Sum(nil), enc)
}

func (b *Binding) cryptoGetHashes(goja.FunctionCall) goja.Value {
	names := HashNames()
	items := make([]any, len(names))
	for i, n := range names {
		items[i] = n
	}
	return b.vm.NewArray(items...)
}

func (b *Binding) cryptoRandomBytes(call goja.FunctionCall) goja.Value {
	n := b.size("randomBytes", "size", call.Argument(0))
	if n >= maxRandomBytes {
		b.throwRange("randomBytes", `The value of "size" is out of range. It must be >= 0 && <= %d. Received %d`, maxRandomBytes-1, n)
	}
	buf, err := b.env.Scope.AllocUnsafe(n)
	if err != nil {
		b.throw(err)
	}
	var readErr error
	if err := buf.View(func(p []byte) { _, readErr = rand.Read(p) }); err != nil {
		b.throw(err)
	}
	if readErr != nil {
		b.throw(readErr)
	}
	return b.Buffer(buf)
}

func (b *Binding) cryptoRandomUUID(goja.FunctionCall) goja.Value {
	return b.vm.ToValue(uuid.NewString())
}

func (b *Binding) cryptoTimingSafeEqual(call goja.FunctionCall) goja.Value {
	x := b.bytesOf("timingSafeEqual", "buf1", call.Argument(0), "utf8")
	y := b.bytesOf("timingSafeEqual", "buf2", call.Argument(1), "utf8")
	if len(x) != len(y) {
		b.throwCode(b.rangeErrorCtor, "ERR_CRYPTO_TIMING_SAFE_EQUAL_LENGTH", "Input buffers must have the same byte length")
	}
	return b.vm.ToValue(subtle.ConstantTimeCompare(x, y) == 1)
}

// crypto.pbkdf2Sync(password, salt, iterations, keylen, digest)
func (b *Binding) cryptoPbkdf2(call goja.FunctionCall) goja.Value {
	const op = "pbkdf2Sync"
	password := b.bytesOf(op, "password", call.Argument(0), "utf8")
	salt := b.bytesOf(op, "salt", call.Argument(1), "utf8")
	iterations := b.size(op, "iterations", call.Argument(2))
	if iterations < 1 {
		b.throwRange(op, `The value of "iterations" is out of range. It must be >= 1. Received %d`, iterations)
	}
	keylen := b.size(op, "keylen", call.Argument(3))
	factory := b.hashFactory(op, call.Argument(4))

	return b.newBuffer(pbkdf2.Key(password, salt, iterations, keylen, factory))
}

// crypto.hkdfSync(digest, ikm, salt, info, keylen) returns an ArrayBuffer
func (b *Binding) cryptoHkdf(call goja.FunctionCall) goja.Value {
	const op = "hkdfSync"
	factory := b.hashFactory(op, call.Argument(0))
	ikm := b.bytesOf(op, "ikm", call.Argument(1), "utf8")
	salt := b.bytesOf(op, "salt", call.Argument(2), "utf8")
	info := b.bytesOf(op, "info", call.Argument(3), "utf8")
	keylen := b.size(op, "keylen", call.Argument(4))

	if limit := 255 * factory().Size(); keylen > limit {
		b.throwCode(b.rangeErrorCtor, "ERR_CRYPTO_INVALID_KEYLEN", "Invalid key length: must be <= %d", limit)
	}
	out := make([]byte, keylen)
	if _, err := io.ReadFull(hkdf.New(factory, ikm, salt, info), out); err != nil {
		b.throw(err)
	}
	return b.vm.ToValue(b.vm.NewArrayBuffer(out))
}

// crypto.sign(algorithm, data, privateKey). The algorithm is ignored for
// ed25519 keys and defaults to sha256 otherwise.
func (b *Binding) cryptoSign(call goja.FunctionCall) goja.Value {
	const op = "sign"
	data := b.bytesOf(op, "data", call.Argument(1), "utf8")
	key, err := parsePrivateKey(b.bytesOf(op, "key", call.Argument(2), "utf8"))
	if err != nil {
		b.throwCode(b.typeErrorCtor, "ERR_INVALID_ARG_VALUE", "The argument 'key' is invalid: %v", err)
	}

	if k, ok := key.(ed25519.PrivateKey); ok {
		return b.newBuffer(ed25519.Sign(k, data))
	}
	h, digest := b.signatureDigest(op, call.Argument(0), data)

	var sig []byte
	switch k := key.(type) {
	case *rsa.PrivateKey:
		sig, err = rsa.SignPKCS1v15(rand.Reader, k, h, digest)
	case *ecdsa.PrivateKey:
		sig, err = ecdsa.SignASN1(rand.Reader, k, digest)
	default:
		err = errors.New("unsupported key type")
	}
	if err != nil {
		b.throw(err)
	}
	return b.newBuffer(sig)
}

// crypto.verify(algorithm, data, publicKey, signature)
func (b *Binding) cryptoVerify(call goja.FunctionCall) goja.Value {
	const op = "verify"
	data := b.bytesOf(op, "data", call.Argument(1), "utf8")
	key, err := parsePublicKey(b.bytesOf(op, "key", call.Argument(2), "utf8"))
	if err != nil {
		b.throwCode(b.typeErrorCtor, "ERR_INVALID_ARG_VALUE", "The argument 'key' is invalid: %v", err)
	}
	sig := b.bytesOf(op, "signature", call.Argument(3), "utf8")

	if k, ok := key.(ed25519.PublicKey); ok {
		return b.vm.ToValue(ed25519.Verify(k, data, sig))
	}
	h, digest := b.signatureDigest(op, call.Argument(0), data)

	switch k := key.(type) {
	case *rsa.PublicKey:
		return b.vm.ToValue(rsa.VerifyPKCS1v15(k, h, digest, sig) == nil)
	case *ecdsa.PublicKey:
		return b.vm.ToValue(ecdsa.VerifyASN1(k, digest, sig))
	}
	b.throwCode(b.typeErrorCtor, "ERR_INVALID_ARG_VALUE", "The argument 'key' has an unsupported type")
	return nil
}

func (b *Binding) signatureDigest(op string, alg goja.Value, data []byte) (crypto.Hash, []byte) {
	name := "sha256"
	if isSet(alg) {
		name = strings.TrimPrefix(strings.ToLower(alg.String()), "rsa-")
	}
	h, ok := signatureHashes[name]
	if !ok {
		b.throwCode(b.errorCtor, "ERR_CRYPTO_INVALID_DIGEST", "Invalid digest: %s", alg.String())
	}
	factory, _ := LookupHash(name)
	d := factory()
	d.Write(data)
	return h, d.Sum(nil)
}

func parsePrivateKey(data []byte) (crypto.Signer, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}

	var (
		key any
		err error
	)
	switch block.Type {
	case "PRIVATE KEY":
		key, err = x509.ParsePKCS8PrivateKey(block.Bytes)
	case "RSA PRIVATE KEY":
		key, err = x509.ParsePKCS1PrivateKey(block.Bytes)
	case "EC PRIVATE KEY":
		key, err = x509.ParseECPrivateKey(block.Bytes)
	default:
		return nil, errors.New("unsupported PEM block " + block.Type)
	}
	if err != nil {
		return nil, err
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, errors.New("key cannot sign")
	}
	return signer, nil
}

// parsePublicKey also accepts certificates and private keys, whose public
// half is used
func parsePublicKey(data []byte) (crypto.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}

	switch block.Type {
	case "PUBLIC KEY":
		return x509.ParsePKIXPublicKey(block.Bytes)
	case "RSA PUBLIC KEY":
		return x509.ParsePKCS1PublicKey(block.Bytes)
	case "CERTIFICATE":
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, err
		}
		return cert.PublicKey, nil
	}

	signer, err := parsePrivateKey(data)
	if err != nil {
		return nil, err
	}
	return signer.Public(), nil
}
