// Package password provides memory-hard credential hashing (argon2id, PHC
// string format). Stored credentials never carry plaintext; login compares
// via Hasher.Verify in constant time.
package password
