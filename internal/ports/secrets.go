package ports

// SecretCipher encrypts credential material at rest. The concrete
// implementation (key management, algorithm) lives outside this module;
// usecases only round-trip opaque ciphertext through it.
type SecretCipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}
