// Package password hashes and verifies account passwords.
//
// New hashes are argon2id in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// bcrypt hashes ($2a$, $2b$, $2y$) written by earlier versions of the platform
// still verify, and NeedsUpgrade reports them so the engine can re-hash them
// with argon2id after the next successful login.
//
// The package never stores or logs passwords; callers pass plaintext in and get
// an encoded hash back.
package password
