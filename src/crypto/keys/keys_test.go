package keys

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	key, err := GenerateECDSAKey()
	if err != nil {
		t.Fatal(err)
	}

	data := []byte("hello catapult")
	r, s, err := Sign(key, data)
	if err != nil {
		t.Fatal(err)
	}

	if !Verify(&key.PublicKey, data, r, s) {
		t.Fatal("signature did not verify")
	}
	if Verify(&key.PublicKey, []byte("tampered"), r, s) {
		t.Fatal("signature verified over tampered data")
	}
}

func TestSignatureEncodingRoundTrip(t *testing.T) {
	key, err := GenerateECDSAKey()
	if err != nil {
		t.Fatal(err)
	}

	r, s, err := Sign(key, []byte("data"))
	if err != nil {
		t.Fatal(err)
	}

	encoded := EncodeSignature(r, s)
	r2, s2, err := DecodeSignature(encoded)
	if err != nil {
		t.Fatal(err)
	}
	if r.Cmp(r2) != 0 || s.Cmp(s2) != 0 {
		t.Fatal("signature encoding round trip failed")
	}
}

func TestPublicKeyMarshalRoundTrip(t *testing.T) {
	key, err := GenerateECDSAKey()
	if err != nil {
		t.Fatal(err)
	}

	raw := FromPublicKey(&key.PublicKey)
	pub := ToPublicKey(raw)
	if pub == nil || pub.X.Cmp(key.PublicKey.X) != 0 || pub.Y.Cmp(key.PublicKey.Y) != 0 {
		t.Fatal("public key round trip failed")
	}
}

func TestPrivateKeyParseRoundTrip(t *testing.T) {
	key, err := GenerateECDSAKey()
	if err != nil {
		t.Fatal(err)
	}

	dump := DumpPrivateKey(key)
	parsed, err := ParsePrivateKey(dump)
	if err != nil {
		t.Fatal(err)
	}
	if parsed.D.Cmp(key.D) != 0 {
		t.Fatal("private key round trip failed")
	}
}

func TestSimpleKeyfileRoundTrip(t *testing.T) {
	dir, err := ioutil.TempDir("", "keys-test")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	keyfile := NewSimpleKeyfile(filepath.Join(dir, "boot_key"))

	key, err := GenerateECDSAKey()
	if err != nil {
		t.Fatal(err)
	}
	if err := keyfile.WriteKey(key); err != nil {
		t.Fatal(err)
	}

	read, err := keyfile.ReadKey()
	if err != nil {
		t.Fatal(err)
	}
	if read.D.Cmp(key.D) != 0 {
		t.Fatal("keyfile round trip failed")
	}
}
