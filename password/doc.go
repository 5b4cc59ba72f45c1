// Package password hashes and verifies principal secrets.
//
// # Output format
//
// New hashes are Argon2id PHC strings:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Hashes imported from older systems in bcrypt form ($2a$, $2b$, $2y$) still
// verify, and [Hasher.NeedsUpgrade] reports them so the engine re-hashes on
// the next successful login. The same applies to Argon2id hashes produced
// with weaker parameters than the current [Config].
//
// Comparison is constant time in both formats. [Hasher.VerifyDummy] runs a
// full verification against a throwaway hash so unknown-principal logins can
// cost the same as wrong-password logins.
//
// This package never stores, logs or normalizes secrets.
package password
